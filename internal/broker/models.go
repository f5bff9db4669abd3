package broker

import "encoding/xml"

// RawExecution is one Trade element of an IBKR Flex statement, kept in its
// broker-specific shape. Downstream code never branches on this: the ingest
// normalizer maps it into the canonical execution or rejects it.
type RawExecution struct {
	XMLName       xml.Name `xml:"Trade"`
	TradeID       string   `xml:"tradeID,attr"`
	Symbol        string   `xml:"underlyingSymbol,attr"`
	AssetCategory string   `xml:"assetCategory,attr"` // OPT, STK, CASH...
	PutCall       string   `xml:"putCall,attr"`       // P, C or empty
	Strike        string   `xml:"strike,attr"`
	Expiry        string   `xml:"expiry,attr"` // yyyyMMdd
	Quantity      string   `xml:"quantity,attr"`
	TradePrice    string   `xml:"tradePrice,attr"`
	IBCommission  string   `xml:"ibCommission,attr"`
	Multiplier    string   `xml:"multiplier,attr"`
	TradeDate     string   `xml:"tradeDate,attr"` // yyyyMMdd
	TradeTime     string   `xml:"tradeTime,attr"` // HHmmss, may be empty
	Notes         string   `xml:"notes,attr"`     // semicolon-separated codes, "A" = assignment
}

// RawPosition is one OpenPosition element: the broker's current mark for an
// open position. Snapshots back the unrealized-PnL price source.
type RawPosition struct {
	XMLName    xml.Name `xml:"OpenPosition"`
	Symbol     string   `xml:"underlyingSymbol,attr"`
	Position   string   `xml:"position,attr"`
	MarkPrice  string   `xml:"markPrice,attr"`
	Multiplier string   `xml:"multiplier,attr"`
}

// Statement is the parsed content of one Flex query response.
type Statement struct {
	Trades    []RawExecution
	Positions []RawPosition
}

// Credentials identify one account's Flex query.
type Credentials struct {
	Token   string
	QueryID string
}

type flexEnvelope struct {
	XMLName       xml.Name       `xml:"FlexQueryResponse"`
	Status        string         `xml:"Status"`
	ReferenceCode string         `xml:"ReferenceCode"`
	ErrorMessage  string         `xml:"ErrorMessage"`
	Trades        []RawExecution `xml:"FlexStatements>FlexStatement>Trades>Trade"`
	Positions     []RawPosition  `xml:"FlexStatements>FlexStatement>OpenPositions>OpenPosition"`
}

type flexSendResponse struct {
	XMLName       xml.Name `xml:"FlexStatementResponse"`
	Status        string   `xml:"Status"`
	ReferenceCode string   `xml:"ReferenceCode"`
	ErrorMessage  string   `xml:"ErrorMessage"`
}
