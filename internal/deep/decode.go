package deep

import (
	"encoding/binary"
	"fmt"

	"github.com/mafuba8/iex-parser/internal/core"
)

// Fixed message block sizes per type tag.
const (
	sizeSystemEvent      = 10
	sizeDirectory        = 31
	sizeTradingStatus    = 22
	sizeRetailLiquidity  = 18
	sizeOperationalHalt  = 18
	sizeShortSale        = 19
	sizeSecurityEvent    = 18
	sizePriceLevelUpdate = 30
	sizeTrade            = 38
	sizeOfficialPrice    = 26
	sizeAuction          = 80
)

type decodeFunc func(tag byte, block []byte) (Message, error)

var decoders = map[byte]decodeFunc{
	TagSystemEvent:              decodeSystemEvent,
	TagSecurityDirectory:        decodeSecurityDirectory,
	TagTradingStatus:            decodeTradingStatus,
	TagRetailLiquidityIndicator: decodeRetailLiquidityIndicator,
	TagOperationalHaltStatus:    decodeOperationalHaltStatus,
	TagShortSalePriceTestStatus: decodeShortSalePriceTestStatus,
	TagSecurityEvent:            decodeSecurityEvent,
	TagPriceLevelUpdateBuy:      decodePriceLevelUpdate,
	TagPriceLevelUpdateSell:     decodePriceLevelUpdate,
	TagTradeReport:              decodeTrade,
	TagTradeBreak:               decodeTrade,
	TagOfficialPrice:            decodeOfficialPrice,
	TagAuctionInformation:       decodeAuctionInformation,
}

// Decode parses one message block by its type tag.
//
// known is false when the tag is not a DEEP 1.0 type; the block is
// then skipped without an error, its length prefix already isolated
// it. For known tags a wrong block size or an undocumented enum value
// fails with core.ErrMalformedMessage.
func Decode(block []byte) (msg Message, known bool, err error) {
	if len(block) == 0 {
		return nil, true, fmt.Errorf("%w: empty message block", core.ErrMalformedMessage)
	}
	fn, ok := decoders[block[0]]
	if !ok {
		return nil, false, nil
	}
	msg, err = fn(block[0], block)
	return msg, true, err
}

// checkSize verifies the block against its type's fixed layout size.
func checkSize(tag byte, block []byte, want int) error {
	if len(block) != want {
		return fmt.Errorf("%w: %s block needs %d bytes, have %d",
			core.ErrMalformedMessage, TypeName(tag), want, len(block))
	}
	return nil
}

// rawTimestamp reads the ns-since-epoch timestamp every layout keeps
// at bytes 2 through 9.
func rawTimestamp(block []byte) int64 {
	return int64(binary.LittleEndian.Uint64(block[2:10]))
}

func decodeSystemEvent(tag byte, block []byte) (Message, error) {
	if err := checkSize(tag, block, sizeSystemEvent); err != nil {
		return nil, err
	}

	var event string
	switch block[1] {
	case 'O':
		event = "MESSAGES_START"
	case 'S':
		event = "SYSTEM_HOURS_START"
	case 'R':
		event = "REGULAR_MARKET_START"
	case 'M':
		event = "REGULAR_MARKET_END"
	case 'E':
		event = "SYSTEM_HOURS_END"
	case 'C':
		event = "MESSAGES_END"
	default:
		return nil, fmt.Errorf("%w: unknown system event 0x%02X", core.ErrMalformedMessage, block[1])
	}

	return &SystemEvent{
		Event:          event,
		TimestampNanos: rawTimestamp(block),
	}, nil
}

func decodeSecurityDirectory(tag byte, block []byte) (Message, error) {
	if err := checkSize(tag, block, sizeDirectory); err != nil {
		return nil, err
	}

	var tier string
	switch block[30] {
	case 0:
		tier = "NOT_APPLICABLE"
	case 1:
		tier = "TIER1_NMS_STOCK"
	case 2:
		tier = "TIER2_NMS_STOCK"
	default:
		return nil, fmt.Errorf("%w: unknown LULD tier %d", core.ErrMalformedMessage, block[30])
	}

	return &SecurityDirectory{
		Flags:            block[1],
		TimestampNanos:   rawTimestamp(block),
		Symbol:           trimSymbol(block[10:18]),
		RoundLotSize:     binary.LittleEndian.Uint32(block[18:22]),
		AdjustedPOCPrice: int64(binary.LittleEndian.Uint64(block[22:30])),
		LULDTier:         tier,
	}, nil
}

func decodeTradingStatus(tag byte, block []byte) (Message, error) {
	if err := checkSize(tag, block, sizeTradingStatus); err != nil {
		return nil, err
	}

	// Undocumented states pass through as empty, the feed has grown
	// new ones before.
	var status string
	switch block[1] {
	case 'H':
		status = "HALTED"
	case 'O':
		status = "HALT_RELEASED_INTO_OAP"
	case 'P':
		status = "PAUSED"
	case 'T':
		status = "TRADING"
	}

	return &TradingStatus{
		Status:         status,
		TimestampNanos: rawTimestamp(block),
		Symbol:         trimSymbol(block[10:18]),
		Reason:         trimSymbol(block[18:22]),
	}, nil
}

func decodeRetailLiquidityIndicator(tag byte, block []byte) (Message, error) {
	if err := checkSize(tag, block, sizeRetailLiquidity); err != nil {
		return nil, err
	}

	var indicator string
	switch block[1] {
	case ' ':
		indicator = "NOT_APPLICABLE"
	case 'A':
		indicator = "BUY_INTEREST"
	case 'B':
		indicator = "SELL_INTEREST"
	case 'C':
		indicator = "BUY_INTEREST|SELL_INTEREST"
	default:
		return nil, fmt.Errorf("%w: unknown retail liquidity indicator 0x%02X", core.ErrMalformedMessage, block[1])
	}

	return &RetailLiquidityIndicator{
		Indicator:      indicator,
		TimestampNanos: rawTimestamp(block),
		Symbol:         trimSymbol(block[10:18]),
	}, nil
}

func decodeOperationalHaltStatus(tag byte, block []byte) (Message, error) {
	if err := checkSize(tag, block, sizeOperationalHalt); err != nil {
		return nil, err
	}

	var status string
	switch block[1] {
	case 'O':
		status = "HALTED"
	case 'N':
		status = "NOT_HALTED"
	default:
		return nil, fmt.Errorf("%w: unknown operational halt status 0x%02X", core.ErrMalformedMessage, block[1])
	}

	return &OperationalHaltStatus{
		Status:         status,
		TimestampNanos: rawTimestamp(block),
		Symbol:         trimSymbol(block[10:18]),
	}, nil
}

func decodeShortSalePriceTestStatus(tag byte, block []byte) (Message, error) {
	if err := checkSize(tag, block, sizeShortSale); err != nil {
		return nil, err
	}

	var status string
	switch block[1] {
	case 0:
		status = "NOT_IN_EFFECT"
	case 1:
		status = "IN_EFFECT"
	default:
		return nil, fmt.Errorf("%w: unknown short sale price test status %d", core.ErrMalformedMessage, block[1])
	}

	var detail string
	switch block[18] {
	case ' ':
		detail = "NO_PRICE_TEST"
	case 'A':
		detail = "RES_ACTIVATED"
	case 'C':
		detail = "RES_CONTINUED"
	case 'D':
		detail = "RES_DEACTIVATED"
	case 'N':
		detail = "NOT_AVAILABLE"
	default:
		return nil, fmt.Errorf("%w: unknown short sale price test detail 0x%02X", core.ErrMalformedMessage, block[18])
	}

	return &ShortSalePriceTestStatus{
		Status:         status,
		Detail:         detail,
		TimestampNanos: rawTimestamp(block),
		Symbol:         trimSymbol(block[10:18]),
	}, nil
}

func decodeSecurityEvent(tag byte, block []byte) (Message, error) {
	if err := checkSize(tag, block, sizeSecurityEvent); err != nil {
		return nil, err
	}

	// Undocumented events pass through as empty, same policy as
	// trading status.
	var event string
	switch block[1] {
	case 'O':
		event = "OPENING"
	case 'C':
		event = "CLOSING"
	}

	return &SecurityEvent{
		Event:          event,
		TimestampNanos: rawTimestamp(block),
		Symbol:         trimSymbol(block[10:18]),
	}, nil
}

func decodePriceLevelUpdate(tag byte, block []byte) (Message, error) {
	if err := checkSize(tag, block, sizePriceLevelUpdate); err != nil {
		return nil, err
	}

	var flag string
	switch block[1] {
	case 0:
		flag = "TRANS_COMPLETE"
	case 1:
		flag = "IN_TRANSITION"
	default:
		return nil, fmt.Errorf("%w: unknown price level event flag %d", core.ErrMalformedMessage, block[1])
	}

	return &PriceLevelUpdate{
		TickType:       tag,
		Flag:           flag,
		TimestampNanos: rawTimestamp(block),
		Symbol:         trimSymbol(block[10:18]),
		Size:           binary.LittleEndian.Uint32(block[18:22]),
		Price:          int64(binary.LittleEndian.Uint64(block[22:30])),
	}, nil
}

func decodeTrade(tag byte, block []byte) (Message, error) {
	if err := checkSize(tag, block, sizeTrade); err != nil {
		return nil, err
	}

	// Every sale condition bit pattern is representable, nothing to
	// validate here.
	return &Trade{
		TickType:           tag,
		SaleConditionFlags: block[1],
		TimestampNanos:     rawTimestamp(block),
		Symbol:             trimSymbol(block[10:18]),
		Size:               binary.LittleEndian.Uint32(block[18:22]),
		Price:              int64(binary.LittleEndian.Uint64(block[22:30])),
		TradeID:            int64(binary.LittleEndian.Uint64(block[30:38])),
	}, nil
}

func decodeOfficialPrice(tag byte, block []byte) (Message, error) {
	if err := checkSize(tag, block, sizeOfficialPrice); err != nil {
		return nil, err
	}

	var priceType string
	switch block[1] {
	case 'Q':
		priceType = "OPENING"
	case 'M':
		priceType = "CLOSING"
	default:
		return nil, fmt.Errorf("%w: unknown official price type 0x%02X", core.ErrMalformedMessage, block[1])
	}

	return &OfficialPrice{
		PriceType:      priceType,
		TimestampNanos: rawTimestamp(block),
		Symbol:         trimSymbol(block[10:18]),
		Price:          int64(binary.LittleEndian.Uint64(block[18:26])),
	}, nil
}

func decodeAuctionInformation(tag byte, block []byte) (Message, error) {
	if err := checkSize(tag, block, sizeAuction); err != nil {
		return nil, err
	}

	var auctionType string
	switch block[1] {
	case 'O':
		auctionType = "OPENING"
	case 'C':
		auctionType = "CLOSING"
	case 'I':
		auctionType = "IPO"
	case 'H':
		auctionType = "HALT"
	case 'V':
		auctionType = "VOLATILITY"
	default:
		return nil, fmt.Errorf("%w: unknown auction type 0x%02X", core.ErrMalformedMessage, block[1])
	}

	var side string
	switch block[42] {
	case 'B':
		side = "BUY"
	case 'S':
		side = "SELL"
	case 'N':
		side = "NONE"
	default:
		return nil, fmt.Errorf("%w: unknown imbalance side 0x%02X", core.ErrMalformedMessage, block[42])
	}

	return &AuctionInformation{
		AuctionType:              auctionType,
		TimestampNanos:           rawTimestamp(block),
		Symbol:                   trimSymbol(block[10:18]),
		PairedShares:             binary.LittleEndian.Uint32(block[18:22]),
		ReferencePrice:           int64(binary.LittleEndian.Uint64(block[22:30])),
		IndicativeClearingPrice:  int64(binary.LittleEndian.Uint64(block[30:38])),
		ImbalanceShares:          binary.LittleEndian.Uint32(block[38:42]),
		ImbalanceSide:            side,
		ExtensionNumber:          block[43],
		ScheduledAuctionTime:     binary.LittleEndian.Uint32(block[44:48]),
		AuctionBookClearingPrice: int64(binary.LittleEndian.Uint64(block[48:56])),
		CollarReferencePrice:     int64(binary.LittleEndian.Uint64(block[56:64])),
		LowerAuctionCollar:       int64(binary.LittleEndian.Uint64(block[64:72])),
		UpperAuctionCollar:       int64(binary.LittleEndian.Uint64(block[72:80])),
	}, nil
}
