package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// BuildParams is the EVM build-route request body
type BuildParams struct {
	RouteSummary      json.RawMessage `json:"routeSummary"`
	Sender            string          `json:"sender"`
	Recipient         string          `json:"recipient"`
	SlippageTolerance uint16          `json:"slippageTolerance"`
	Deadline          int64           `json:"deadline"`
	Source            string          `json:"source,omitempty"`
}

// BuiltRoute is the router call returned by the build-route endpoint
type BuiltRoute struct {
	RouterAddress    string `json:"routerAddress"`
	Data             string `json:"data"`
	TransactionValue string `json:"transactionValue"`
	AmountIn         string `json:"amountIn"`
	AmountOut        string `json:"amountOut"`
	Gas              string `json:"gas"`
}

// BuildRoute asks the routing service to encode calldata for a previously quoted route
func (c *RouteClient) BuildRoute(ctx context.Context, chainID string, params BuildParams) (*BuiltRoute, error) {
	if len(params.RouteSummary) == 0 {
		return nil, fmt.Errorf("route summary is required")
	}
	if params.Sender == "" || params.Recipient == "" {
		return nil, fmt.Errorf("sender and recipient are required")
	}

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal build request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/api/v1/route/build", c.baseURL, url.PathEscape(chainID))
	data, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build route: %w", err)
	}

	var built BuiltRoute
	if err := json.Unmarshal(data, &built); err != nil {
		return nil, fmt.Errorf("decode build response: %w", err)
	}
	built.RouterAddress = strings.TrimSpace(built.RouterAddress)
	if built.RouterAddress == "" {
		return nil, fmt.Errorf("build response missing router address")
	}
	if built.TransactionValue == "" {
		built.TransactionValue = "0"
	}

	c.logger.Debug().
		Str("chain", chainID).
		Str("router", built.RouterAddress).
		Str("amount_out", built.AmountOut).
		Msg("route built")

	return &built, nil
}
