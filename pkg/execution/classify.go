package execution

import (
	"errors"
	"strings"

	"routeswap/pkg/types"
)

// Router and program failure strings that mean the price moved past the bound
var slippageMarkers = []string{
	"return amount is not enough",
	"insufficient_output_amount",
	"too little received",
	"excessive_input_amount",
	"slippagetoleranceexceeded",
	"custom program error: 0x1771",
	"custom:6001",
}

var insufficientFundsMarkers = []string{
	"insufficient funds",
	"insufficient lamports",
	"transfer amount exceeds balance",
	"insufficient balance",
	"attempt to debit an account but found no record of a prior credit",
}

// Classify maps a signing, submission or on-chain error to a failure reason
func Classify(err error) types.FailureReason {
	if err == nil {
		return ""
	}

	var execErr *types.ExecutionError
	switch {
	case errors.As(err, &execErr):
		return execErr.Reason
	case errors.Is(err, types.ErrUserRejected):
		return types.ReasonUserRejected
	case errors.Is(err, types.ErrSignerUnavailable):
		return types.ReasonSignerUnavailable
	case errors.Is(err, types.ErrInsufficientBalance), errors.Is(err, types.ErrInsufficientAllowance):
		return types.ReasonInsufficientFunds
	}

	if reason, ok := classifyText(err.Error()); ok {
		return reason
	}

	// transport errors, timeouts and unrecognised RPC rejections
	return types.ReasonNetwork
}

// ClassifyFailure maps the revert reason or logs of a failed transaction
func ClassifyFailure(detail string) types.FailureReason {
	if reason, ok := classifyText(detail); ok {
		return reason
	}
	return types.ReasonReverted
}

func classifyText(text string) (types.FailureReason, bool) {
	lower := strings.ToLower(text)
	for _, m := range slippageMarkers {
		if strings.Contains(lower, m) {
			return types.ReasonSlippageExceeded, true
		}
	}
	for _, m := range insufficientFundsMarkers {
		if strings.Contains(lower, m) {
			return types.ReasonInsufficientFunds, true
		}
	}
	if strings.Contains(lower, "execution reverted") || strings.Contains(lower, "custom program error") || strings.Contains(lower, "instructionerror") {
		return types.ReasonReverted, true
	}
	return "", false
}
