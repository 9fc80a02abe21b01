// Package deep decodes IEX DEEP 1.0 messages from their wire layout.
//
// Each message block starts with a one-byte type tag followed by a
// fixed layout for that tag. All integers are little-endian, prices
// are fixed-point with four implied decimal places, symbols are
// 8-byte space-padded ASCII, and timestamps are nanoseconds since the
// POSIX epoch.
package deep

import "strconv"

// Message type tags.
const (
	TagSystemEvent              = 'S'
	TagSecurityDirectory        = 'D'
	TagTradingStatus            = 'H'
	TagRetailLiquidityIndicator = 'I'
	TagOperationalHaltStatus    = 'O'
	TagShortSalePriceTestStatus = 'P'
	TagSecurityEvent            = 'E'
	TagPriceLevelUpdateBuy      = '8'
	TagPriceLevelUpdateSell     = '5'
	TagTradeReport              = 'T'
	TagOfficialPrice            = 'X'
	TagTradeBreak               = 'B'
	TagAuctionInformation       = 'A'
)

// Tags lists every known type tag in feed documentation order.
var Tags = []byte{'S', 'D', 'H', 'I', 'O', 'P', 'E', '8', '5', 'T', 'X', 'B', 'A'}

// TypeName returns the display name of a message type tag.
func TypeName(tag byte) string {
	switch tag {
	case TagSystemEvent:
		return "System Event"
	case TagSecurityDirectory:
		return "Security Directory"
	case TagTradingStatus:
		return "Trading Status"
	case TagRetailLiquidityIndicator:
		return "Retail Liquidity Indicator"
	case TagOperationalHaltStatus:
		return "Operational Halt Status"
	case TagShortSalePriceTestStatus:
		return "Short Sale Price Test Status"
	case TagSecurityEvent:
		return "Security Event"
	case TagPriceLevelUpdateBuy:
		return "Price Level Update - Buy"
	case TagPriceLevelUpdateSell:
		return "Price Level Update - Sell"
	case TagTradeReport:
		return "Trade Report"
	case TagOfficialPrice:
		return "Official Price"
	case TagTradeBreak:
		return "Trade Break"
	case TagAuctionInformation:
		return "Auction Information"
	}
	return "Unknown"
}

// Message is one decoded DEEP message.
//
// Columns names the type-specific CSV columns and Fields renders the
// matching values, both starting with the tick type. The returned
// slices are shared, callers must not modify them.
type Message interface {
	Tag() byte

	// Timestamp returns the matching engine time of the message in
	// nanoseconds since the POSIX epoch.
	Timestamp() int64

	Columns() []string
	Fields() []string
}

// SystemEvent marks a transition of the whole market, tag 'S'.
type SystemEvent struct {
	Event          string
	TimestampNanos int64
}

func (m *SystemEvent) Tag() byte         { return TagSystemEvent }
func (m *SystemEvent) Timestamp() int64  { return m.TimestampNanos }
func (m *SystemEvent) Columns() []string { return columnsSystemEvent }

func (m *SystemEvent) Fields() []string {
	return []string{"S", m.Event}
}

// SecurityDirectory announces a tradable security, tag 'D'.
type SecurityDirectory struct {
	Flags            byte
	TimestampNanos   int64
	Symbol           string
	RoundLotSize     uint32
	AdjustedPOCPrice int64
	LULDTier         string
}

func (m *SecurityDirectory) Tag() byte         { return TagSecurityDirectory }
func (m *SecurityDirectory) Timestamp() int64  { return m.TimestampNanos }
func (m *SecurityDirectory) Columns() []string { return columnsSecurityDirectory }

func (m *SecurityDirectory) Fields() []string {
	return []string{
		"D",
		m.Symbol,
		strconv.FormatUint(uint64(m.RoundLotSize), 10),
		FormatPrice(m.AdjustedPOCPrice),
		m.LULDTier,
		directoryFlags(m.Flags),
	}
}

// TradingStatus reports the market-wide trading state of a security,
// tag 'H'. Status is empty when the wire value is not a documented
// state.
type TradingStatus struct {
	Status         string
	TimestampNanos int64
	Symbol         string
	Reason         string
}

func (m *TradingStatus) Tag() byte         { return TagTradingStatus }
func (m *TradingStatus) Timestamp() int64  { return m.TimestampNanos }
func (m *TradingStatus) Columns() []string { return columnsTradingStatus }

func (m *TradingStatus) Fields() []string {
	return []string{"H", m.Symbol, m.Status, m.Reason}
}

// RetailLiquidityIndicator signals retail interest on a security,
// tag 'I'.
type RetailLiquidityIndicator struct {
	Indicator      string
	TimestampNanos int64
	Symbol         string
}

func (m *RetailLiquidityIndicator) Tag() byte         { return TagRetailLiquidityIndicator }
func (m *RetailLiquidityIndicator) Timestamp() int64  { return m.TimestampNanos }
func (m *RetailLiquidityIndicator) Columns() []string { return columnsRetailLiquidity }

func (m *RetailLiquidityIndicator) Fields() []string {
	return []string{"I", m.Symbol, m.Indicator}
}

// OperationalHaltStatus reports an exchange-specific operational halt,
// tag 'O'.
type OperationalHaltStatus struct {
	Status         string
	TimestampNanos int64
	Symbol         string
}

func (m *OperationalHaltStatus) Tag() byte         { return TagOperationalHaltStatus }
func (m *OperationalHaltStatus) Timestamp() int64  { return m.TimestampNanos }
func (m *OperationalHaltStatus) Columns() []string { return columnsOperationalHalt }

func (m *OperationalHaltStatus) Fields() []string {
	return []string{"O", m.Symbol, m.Status}
}

// ShortSalePriceTestStatus reports Reg SHO restriction state, tag 'P'.
type ShortSalePriceTestStatus struct {
	Status         string
	Detail         string
	TimestampNanos int64
	Symbol         string
}

func (m *ShortSalePriceTestStatus) Tag() byte         { return TagShortSalePriceTestStatus }
func (m *ShortSalePriceTestStatus) Timestamp() int64  { return m.TimestampNanos }
func (m *ShortSalePriceTestStatus) Columns() []string { return columnsShortSale }

func (m *ShortSalePriceTestStatus) Fields() []string {
	return []string{"P", m.Symbol, m.Status, m.Detail}
}

// SecurityEvent marks the opening or closing process of a security,
// tag 'E'. Event is empty when the wire value is not a documented
// event.
type SecurityEvent struct {
	Event          string
	TimestampNanos int64
	Symbol         string
}

func (m *SecurityEvent) Tag() byte         { return TagSecurityEvent }
func (m *SecurityEvent) Timestamp() int64  { return m.TimestampNanos }
func (m *SecurityEvent) Columns() []string { return columnsSecurityEvent }

func (m *SecurityEvent) Fields() []string {
	return []string{"E", m.Symbol, m.Event}
}

// PriceLevelUpdate replaces one side's book level, tags '8' (buy) and
// '5' (sell). A size of zero retires the level.
type PriceLevelUpdate struct {
	TickType       byte
	Flag           string
	TimestampNanos int64
	Symbol         string
	Size           uint32
	Price          int64
}

func (m *PriceLevelUpdate) Tag() byte         { return m.TickType }
func (m *PriceLevelUpdate) Timestamp() int64  { return m.TimestampNanos }
func (m *PriceLevelUpdate) Columns() []string { return columnsPriceLevelUpdate }

// RecordType is "Z" for a retired level and "R" for a live one.
func (m *PriceLevelUpdate) RecordType() string {
	if m.Size == 0 {
		return "Z"
	}
	return "R"
}

func (m *PriceLevelUpdate) Fields() []string {
	return []string{
		string(m.TickType),
		m.Symbol,
		FormatPrice(m.Price),
		strconv.FormatUint(uint64(m.Size), 10),
		m.RecordType(),
		m.Flag,
	}
}

// Trade is an executed trade, tag 'T', or a broken one, tag 'B'. The
// two share a layout and differ only in the tick type.
type Trade struct {
	TickType           byte
	SaleConditionFlags byte
	TimestampNanos     int64
	Symbol             string
	Size               uint32
	Price              int64
	TradeID            int64
}

func (m *Trade) Tag() byte         { return m.TickType }
func (m *Trade) Timestamp() int64  { return m.TimestampNanos }
func (m *Trade) Columns() []string { return columnsTrade }

func (m *Trade) Fields() []string {
	return []string{
		string(m.TickType),
		m.Symbol,
		strconv.FormatUint(uint64(m.Size), 10),
		FormatPrice(m.Price),
		strconv.FormatInt(m.TradeID, 10),
		saleConditions(m.SaleConditionFlags),
	}
}

// OfficialPrice carries the official opening or closing price, tag 'X'.
type OfficialPrice struct {
	PriceType      string
	TimestampNanos int64
	Symbol         string
	Price          int64
}

func (m *OfficialPrice) Tag() byte         { return TagOfficialPrice }
func (m *OfficialPrice) Timestamp() int64  { return m.TimestampNanos }
func (m *OfficialPrice) Columns() []string { return columnsOfficialPrice }

func (m *OfficialPrice) Fields() []string {
	return []string{"X", m.Symbol, FormatPrice(m.Price), m.PriceType}
}

// AuctionInformation describes the state of an upcoming auction,
// tag 'A'.
type AuctionInformation struct {
	AuctionType              string
	TimestampNanos           int64
	Symbol                   string
	PairedShares             uint32
	ReferencePrice           int64
	IndicativeClearingPrice  int64
	ImbalanceShares          uint32
	ImbalanceSide            string
	ExtensionNumber          uint8
	ScheduledAuctionTime     uint32
	AuctionBookClearingPrice int64
	CollarReferencePrice     int64
	LowerAuctionCollar       int64
	UpperAuctionCollar       int64
}

func (m *AuctionInformation) Tag() byte         { return TagAuctionInformation }
func (m *AuctionInformation) Timestamp() int64  { return m.TimestampNanos }
func (m *AuctionInformation) Columns() []string { return columnsAuction }

func (m *AuctionInformation) Fields() []string {
	return []string{
		"A",
		m.AuctionType,
		m.Symbol,
		strconv.FormatUint(uint64(m.PairedShares), 10),
		FormatPrice(m.ReferencePrice),
		FormatPrice(m.IndicativeClearingPrice),
		strconv.FormatUint(uint64(m.ImbalanceShares), 10),
		m.ImbalanceSide,
		strconv.FormatUint(uint64(m.ExtensionNumber), 10),
		strconv.FormatUint(uint64(m.ScheduledAuctionTime), 10),
		FormatPrice(m.AuctionBookClearingPrice),
		FormatPrice(m.CollarReferencePrice),
		FormatPrice(m.LowerAuctionCollar),
		FormatPrice(m.UpperAuctionCollar),
	}
}
