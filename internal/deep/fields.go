package deep

import (
	"fmt"
	"strings"
)

// CSV columns per message type, tick type first. The three shared time
// columns are owned by the sink, not listed here.
var (
	columnsSystemEvent = []string{"Tick Type", "System Event"}

	columnsSecurityDirectory = []string{
		"Tick Type", "Symbol", "Round Lot Size", "Adjusted POC Price",
		"LULD Tier", "Security Directory Flags",
	}

	columnsTradingStatus = []string{"Tick Type", "Symbol", "Trading Status", "Reason"}

	columnsRetailLiquidity = []string{"Tick Type", "Symbol", "Retail Liquidity Indicator"}

	columnsOperationalHalt = []string{"Tick Type", "Symbol", "Operational Halt Status"}

	columnsShortSale = []string{"Tick Type", "Symbol", "Short Sale Price Test Status", "Detail"}

	columnsSecurityEvent = []string{"Tick Type", "Symbol", "Security Event"}

	columnsPriceLevelUpdate = []string{"Tick Type", "Symbol", "Price", "Size", "Record Type", "Flag"}

	columnsTrade = []string{"Tick Type", "Symbol", "Size", "Price", "Trade ID", "Sale Condition"}

	columnsOfficialPrice = []string{"Tick Type", "Symbol", "Official Price", "Price Type"}

	columnsAuction = []string{
		"Tick Type", "Auction Type", "Symbol", "Paired Shares",
		"Reference Price", "Indicative Clearing Price", "Imbalance Shares",
		"Imbalance Side", "Extension Number", "Scheduled Auction Time",
		"Auction Book Clearing Price", "Collar Reference Price",
		"Lower Auction Collar", "Upper Auction Collar",
	}
)

// Sale condition flag bits of trade report and trade break messages.
const (
	saleFlagIntermarketSweep   = 0x80
	saleFlagExtendedHours      = 0x40
	saleFlagOddLot             = 0x20
	saleFlagTradeThroughExempt = 0x10
	saleFlagSinglePriceCross   = 0x08
)

// Security directory flag bits.
const (
	directoryFlagTestSecurity = 0x80
	directoryFlagWhenIssued   = 0x40
	directoryFlagETP          = 0x20
)

// FormatPrice renders a fixed-point price with its four implied
// decimal places, for example 990500 as "99.0500". Integer math only,
// the wire value is never pushed through a float.
func FormatPrice(raw int64) string {
	sign := ""
	if raw < 0 {
		sign = "-"
		raw = -raw
	}
	return fmt.Sprintf("%s%d.%04d", sign, raw/10000, raw%10000)
}

// trimSymbol strips the space and NUL padding of a fixed-width symbol.
func trimSymbol(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}

// saleConditions renders the sale condition byte as pipe-joined flag
// names. Exactly one of EXTENDED_HOURS and REGULAR_HOURS is always
// present.
func saleConditions(flags byte) string {
	conditions := make([]string, 0, 5)
	if flags&saleFlagIntermarketSweep != 0 {
		conditions = append(conditions, "INTERMARKET_SWEEP")
	}
	if flags&saleFlagExtendedHours != 0 {
		conditions = append(conditions, "EXTENDED_HOURS")
	} else {
		conditions = append(conditions, "REGULAR_HOURS")
	}
	if flags&saleFlagOddLot != 0 {
		conditions = append(conditions, "ODD_LOT")
	}
	if flags&saleFlagTradeThroughExempt != 0 {
		conditions = append(conditions, "TRADE_THROUGH_EXEMPT")
	}
	if flags&saleFlagSinglePriceCross != 0 {
		conditions = append(conditions, "SINGLE_PRICE_CROSS")
	}
	return strings.Join(conditions, "|")
}

// directoryFlags renders the security directory flag byte as
// pipe-joined flag names, empty when no flag is set.
func directoryFlags(flags byte) string {
	names := make([]string, 0, 3)
	if flags&directoryFlagTestSecurity != 0 {
		names = append(names, "TEST_SECURITY")
	}
	if flags&directoryFlagWhenIssued != 0 {
		names = append(names, "WHEN_ISSUED")
	}
	if flags&directoryFlagETP != 0 {
		names = append(names, "ETP")
	}
	return strings.Join(names, "|")
}
