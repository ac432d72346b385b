package client

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"routeswap/pkg/types"
)

// Fee sides reported by the routing service
const (
	ChargeFeeByCurrencyIn  = "currency_in"
	ChargeFeeByCurrencyOut = "currency_out"
)

// QuoteParams describes one quote request
type QuoteParams struct {
	ChainID  string
	TokenIn  string
	TokenOut string
	// Amount is the raw base-unit amount of the fixed side
	Amount string
	Kind   types.SwapKind
}

// ExtraFee is the protocol fee configuration attached to a route
type ExtraFee struct {
	ChargeFeeBy  string
	FeeAmount    string
	IsInBps      bool
	FeeReceiver  string
	FeeAmountUSD string
}

// Hop is one pool traversal inside a route path
type Hop struct {
	Pool       string `json:"pool"`
	TokenIn    string `json:"tokenIn"`
	TokenOut   string `json:"tokenOut"`
	SwapAmount string `json:"swapAmount"`
	AmountOut  string `json:"amountOut"`
	Exchange   string `json:"exchange"`
	ProgramID  string `json:"programId,omitempty"`
}

// RawRouteQuote is a strictly parsed, still untrusted, routing service response
type RawRouteQuote struct {
	ChainID       string
	Kind          types.SwapKind
	TokenIn       string
	TokenOut      string
	AmountIn      string
	AmountOut     string
	AmountInUSD   string
	AmountOutUSD  string
	ExtraFee      *ExtraFee
	RouterAddress string
	Route         [][]Hop
	Timestamp     int64
	RequestID     string

	// Summary is the opaque route summary handed back to the build API
	Summary json.RawMessage

	// Stamped by the client
	Sequence  uint64
	FetchedAt time.Time
}

type apiEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type routesData struct {
	RouteSummary  json.RawMessage `json:"routeSummary"`
	RouterAddress string          `json:"routerAddress"`
	RequestID     string          `json:"requestId"`
}

type routeSummaryWire struct {
	TokenIn      *string       `json:"tokenIn"`
	AmountIn     *string       `json:"amountIn"`
	AmountInUSD  *string       `json:"amountInUsd"`
	TokenOut     *string       `json:"tokenOut"`
	AmountOut    *string       `json:"amountOut"`
	AmountOutUSD *string       `json:"amountOutUsd"`
	ExtraFee     *extraFeeWire `json:"extraFee"`
	Route        [][]Hop       `json:"route"`
	Timestamp    int64         `json:"timestamp"`
}

type extraFeeWire struct {
	FeeAmount    string `json:"feeAmount"`
	ChargeFeeBy  string `json:"chargeFeeBy"`
	IsInBps      bool   `json:"isInBps"`
	FeeReceiver  string `json:"feeReceiver"`
	FeeAmountUSD string `json:"feeAmountUsd"`
}

// parseRoutes turns the data section of a routes response into a RawRouteQuote.
// Every field business logic reads is checked here so nothing downstream has to.
func parseRoutes(data json.RawMessage, params QuoteParams) (*RawRouteQuote, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, &types.MalformedQuoteError{Field: "data", Reason: "missing"}
	}

	var rd routesData
	if err := json.Unmarshal(data, &rd); err != nil {
		return nil, &types.MalformedQuoteError{Field: "data", Reason: err.Error()}
	}
	if len(rd.RouteSummary) == 0 || string(rd.RouteSummary) == "null" {
		return nil, &types.MalformedQuoteError{Field: "routeSummary", Reason: "missing"}
	}
	if strings.TrimSpace(rd.RouterAddress) == "" {
		return nil, &types.MalformedQuoteError{Field: "routerAddress", Reason: "missing"}
	}

	var rs routeSummaryWire
	if err := json.Unmarshal(rd.RouteSummary, &rs); err != nil {
		return nil, &types.MalformedQuoteError{Field: "routeSummary", Reason: err.Error()}
	}

	quote := &RawRouteQuote{
		ChainID:       params.ChainID,
		Kind:          params.Kind,
		RouterAddress: strings.TrimSpace(rd.RouterAddress),
		RequestID:     rd.RequestID,
		Route:         rs.Route,
		Timestamp:     rs.Timestamp,
		Summary:       rd.RouteSummary,
	}
	if quote.Kind == "" {
		quote.Kind = types.ExactIn
	}

	var err error
	if quote.TokenIn, err = requiredString("tokenIn", rs.TokenIn); err != nil {
		return nil, err
	}
	if quote.TokenOut, err = requiredString("tokenOut", rs.TokenOut); err != nil {
		return nil, err
	}
	if quote.AmountIn, err = requiredInteger("amountIn", rs.AmountIn); err != nil {
		return nil, err
	}
	if quote.AmountOut, err = requiredInteger("amountOut", rs.AmountOut); err != nil {
		return nil, err
	}
	if quote.AmountInUSD, err = optionalDecimal("amountInUsd", rs.AmountInUSD); err != nil {
		return nil, err
	}
	if quote.AmountOutUSD, err = optionalDecimal("amountOutUsd", rs.AmountOutUSD); err != nil {
		return nil, err
	}

	if rs.ExtraFee != nil && rs.ExtraFee.FeeAmount != "" && rs.ExtraFee.FeeAmount != "0" {
		fee := rs.ExtraFee
		switch fee.ChargeFeeBy {
		case ChargeFeeByCurrencyIn, ChargeFeeByCurrencyOut:
		default:
			return nil, &types.MalformedQuoteError{Field: "extraFee.chargeFeeBy", Reason: fmt.Sprintf("unknown side %q", fee.ChargeFeeBy)}
		}
		feeAmount := fee.FeeAmount
		if _, err := requiredInteger("extraFee.feeAmount", &feeAmount); err != nil {
			return nil, err
		}
		feeUSD := fee.FeeAmountUSD
		if _, err := optionalDecimal("extraFee.feeAmountUsd", &feeUSD); err != nil {
			return nil, err
		}
		quote.ExtraFee = &ExtraFee{
			ChargeFeeBy:  fee.ChargeFeeBy,
			FeeAmount:    fee.FeeAmount,
			IsInBps:      fee.IsInBps,
			FeeReceiver:  fee.FeeReceiver,
			FeeAmountUSD: fee.FeeAmountUSD,
		}
	}

	for i, path := range quote.Route {
		for j, hop := range path {
			if strings.TrimSpace(hop.Pool) == "" {
				return nil, &types.MalformedQuoteError{Field: fmt.Sprintf("route[%d][%d].pool", i, j), Reason: "missing"}
			}
		}
	}

	return quote, nil
}

func requiredString(field string, v *string) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "", &types.MalformedQuoteError{Field: field, Reason: "missing"}
	}
	return strings.TrimSpace(*v), nil
}

func requiredInteger(field string, v *string) (string, error) {
	s, err := requiredString(field, v)
	if err != nil {
		return "", err
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return "", &types.MalformedQuoteError{Field: field, Reason: fmt.Sprintf("not a base-unit integer: %q", s)}
		}
	}
	return s, nil
}

// optionalDecimal accepts a missing or empty value as unknown
func optionalDecimal(field string, v *string) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "", nil
	}
	s := strings.TrimSpace(*v)
	if _, err := decimal.NewFromString(s); err != nil {
		return "", &types.MalformedQuoteError{Field: field, Reason: fmt.Sprintf("not a decimal: %q", s)}
	}
	return s, nil
}
