package route

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"routeswap/pkg/amount"
	"routeswap/pkg/client"
	"routeswap/pkg/types"
)

// Fee is the protocol fee taken from one side of the swap
type Fee struct {
	Currency types.Currency
	Amount   amount.Amount
	// Bps is zero for a fixed amount fee
	Bps       uint32
	ChargedBy string
	Receiver  string
	// USD is display data reported by the routing service
	USD decimal.NullDecimal
}

// ComputeFee derives the fee from a quote's fee configuration. A quote without
// one is fee-less and yields nil.
func ComputeFee(extra *client.ExtraFee, in, out amount.Amount, tokenIn, tokenOut types.Currency) (*Fee, error) {
	if extra == nil {
		return nil, nil
	}

	fee := &Fee{
		ChargedBy: extra.ChargeFeeBy,
		Receiver:  extra.FeeReceiver,
	}

	var charged amount.Amount
	switch extra.ChargeFeeBy {
	case client.ChargeFeeByCurrencyIn:
		charged, fee.Currency = in, tokenIn
	case client.ChargeFeeByCurrencyOut:
		charged, fee.Currency = out, tokenOut
	default:
		return nil, &types.MalformedQuoteError{Field: "extraFee.chargeFeeBy", Reason: fmt.Sprintf("unknown side %q", extra.ChargeFeeBy)}
	}

	if extra.IsInBps {
		bps, err := strconv.ParseUint(extra.FeeAmount, 10, 32)
		if err != nil || bps > amount.BpsBase {
			return nil, &types.MalformedQuoteError{Field: "extraFee.feeAmount", Reason: fmt.Sprintf("basis points out of range: %q", extra.FeeAmount)}
		}
		fee.Bps = uint32(bps)
		if fee.Amount, err = charged.MulBps(fee.Bps); err != nil {
			return nil, fmt.Errorf("compute fee: %w", err)
		}
	} else {
		fixed, err := amount.Parse(extra.FeeAmount, charged.Decimals())
		if err != nil {
			return nil, &types.MalformedQuoteError{Field: "extraFee.feeAmount", Reason: err.Error()}
		}
		if c, _ := fixed.Cmp(charged); c > 0 {
			return nil, &types.MalformedQuoteError{Field: "extraFee.feeAmount", Reason: "fee exceeds the charged amount"}
		}
		fee.Amount = fixed
	}

	if extra.FeeAmountUSD != "" {
		usd, err := decimal.NewFromString(extra.FeeAmountUSD)
		if err != nil {
			return nil, &types.MalformedQuoteError{Field: "extraFee.feeAmountUsd", Reason: err.Error()}
		}
		fee.USD = decimal.NewNullDecimal(usd)
	}

	return fee, nil
}
