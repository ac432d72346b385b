package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routeswap/pkg/types"
)

const (
	testUSDC   = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	testWETH   = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	testRouter = "0x6131B5fae19EA4f9D964eAc0408E4408b66337b5"
)

func routesBody(summary map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"code":    0,
		"message": "successfully",
		"data": map[string]interface{}{
			"routeSummary":  summary,
			"routerAddress": testRouter,
			"requestId":     "req-1",
		},
	}
}

func validSummary() map[string]interface{} {
	return map[string]interface{}{
		"tokenIn":      testUSDC,
		"amountIn":     "1000000",
		"amountInUsd":  "1.0002",
		"tokenOut":     testWETH,
		"amountOut":    "500000",
		"amountOutUsd": "0.9991",
		"extraFee": map[string]interface{}{
			"feeAmount":    "10",
			"chargeFeeBy":  "currency_in",
			"isInBps":      true,
			"feeReceiver":  "0x0000000000000000000000000000000000000001",
			"feeAmountUsd": "0.001",
		},
		"route": [][]map[string]interface{}{{
			{"pool": "0xpool", "tokenIn": testUSDC, "tokenOut": testWETH, "swapAmount": "1000000", "amountOut": "500000", "exchange": "uniswap-v3"},
		}},
		"timestamp": 1700000000,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func testParams() QuoteParams {
	return QuoteParams{ChainID: "ethereum", TokenIn: testUSDC, TokenOut: testWETH, Amount: "1000000", Kind: types.ExactIn}
}

func fastClient(url string, opts ...ClientOption) *RouteClient {
	opts = append([]ClientOption{WithRetryDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond)}, opts...)
	return NewRouteClient(url, opts...)
}

func TestFetchQuote_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ethereum/api/v1/routes", r.URL.Path)
		assert.Equal(t, testUSDC, r.URL.Query().Get("tokenIn"))
		assert.Equal(t, testWETH, r.URL.Query().Get("tokenOut"))
		assert.Equal(t, "1000000", r.URL.Query().Get("amountIn"))
		assert.Equal(t, "routeswap-test", r.Header.Get("x-client-id"))
		writeJSON(w, http.StatusOK, routesBody(validSummary()))
	}))
	defer server.Close()

	c := fastClient(server.URL, WithClientID("routeswap-test"))
	q, err := c.FetchQuote(context.Background(), testParams())
	require.NoError(t, err)

	assert.Equal(t, "1000000", q.AmountIn)
	assert.Equal(t, "500000", q.AmountOut)
	assert.Equal(t, testRouter, q.RouterAddress)
	assert.Equal(t, "ethereum", q.ChainID)
	assert.Equal(t, types.ExactIn, q.Kind)
	require.NotNil(t, q.ExtraFee)
	assert.Equal(t, ChargeFeeByCurrencyIn, q.ExtraFee.ChargeFeeBy)
	assert.Equal(t, "10", q.ExtraFee.FeeAmount)
	require.Len(t, q.Route, 1)
	assert.Equal(t, "0xpool", q.Route[0][0].Pool)
	assert.NotEmpty(t, q.Summary)
	assert.False(t, q.FetchedAt.IsZero())
}

func TestFetchQuote_ExactOutQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "500000", r.URL.Query().Get("amountOut"))
		assert.Equal(t, "ExactOut", r.URL.Query().Get("swapMode"))
		assert.Empty(t, r.URL.Query().Get("amountIn"))
		writeJSON(w, http.StatusOK, routesBody(validSummary()))
	}))
	defer server.Close()

	params := testParams()
	params.Kind = types.ExactOut
	params.Amount = "500000"
	q, err := fastClient(server.URL).FetchQuote(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, types.ExactOut, q.Kind)
}

func TestFetchQuote_NoRoute(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"code": 4008, "message": "route not found"})
	}))
	defer server.Close()

	_, err := fastClient(server.URL).FetchQuote(context.Background(), testParams())
	var noRoute *types.NoRouteError
	require.ErrorAs(t, err, &noRoute)
	assert.Equal(t, "route not found", noRoute.Message)
	assert.Equal(t, int32(1), hits.Load(), "no-route is not retried")
}

func TestFetchQuote_RetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, routesBody(validSummary()))
	}))
	defer server.Close()

	q, err := fastClient(server.URL).FetchQuote(context.Background(), testParams())
	require.NoError(t, err)
	assert.Equal(t, "500000", q.AmountOut)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchQuote_RateLimitedAfterRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := fastClient(server.URL, WithMaxRetries(1)).FetchQuote(context.Background(), testParams())
	var limited *types.RateLimitedError
	assert.ErrorAs(t, err, &limited)
}

func TestFetchQuote_ServerErrorIsNetwork(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := fastClient(server.URL, WithMaxRetries(2)).FetchQuote(context.Background(), testParams())
	var netErr *types.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchQuote_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(map[string]interface{})
		field  string
	}{
		{"missing amountOut", func(s map[string]interface{}) { delete(s, "amountOut") }, "amountOut"},
		{"float amountIn", func(s map[string]interface{}) { s["amountIn"] = "1.5" }, "amountIn"},
		{"bad usd", func(s map[string]interface{}) { s["amountInUsd"] = "abc" }, "amountInUsd"},
		{"unknown fee side", func(s map[string]interface{}) {
			s["extraFee"].(map[string]interface{})["chargeFeeBy"] = "both"
		}, "extraFee.chargeFeeBy"},
		{"missing tokenIn", func(s map[string]interface{}) { s["tokenIn"] = "" }, "tokenIn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				s := validSummary()
				tt.mutate(s)
				writeJSON(w, http.StatusOK, routesBody(s))
			}))
			defer server.Close()

			_, err := fastClient(server.URL).FetchQuote(context.Background(), testParams())
			var malformed *types.MalformedQuoteError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, tt.field, malformed.Field)
			assert.Equal(t, int32(1), hits.Load())
		})
	}
}

func TestFetchQuote_UnknownUSDIsAllowed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := validSummary()
		delete(s, "amountOutUsd")
		delete(s, "extraFee")
		writeJSON(w, http.StatusOK, routesBody(s))
	}))
	defer server.Close()

	q, err := fastClient(server.URL).FetchQuote(context.Background(), testParams())
	require.NoError(t, err)
	assert.Empty(t, q.AmountOutUSD)
	assert.Nil(t, q.ExtraFee)
}

func TestBuildRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ethereum/api/v1/route/build", r.URL.Path)

		var req BuildParams
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, uint16(50), req.SlippageTolerance)
		assert.Equal(t, "0xsender", req.Sender)
		assert.JSONEq(t, `{"amountIn":"1"}`, string(req.RouteSummary))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"code": 0,
			"data": map[string]interface{}{
				"routerAddress":    testRouter,
				"data":             "0xe21fd0e9",
				"transactionValue": "0",
				"amountIn":         "1",
				"amountOut":        "1",
				"gas":              "120000",
			},
		})
	}))
	defer server.Close()

	built, err := fastClient(server.URL).BuildRoute(context.Background(), "ethereum", BuildParams{
		RouteSummary:      json.RawMessage(`{"amountIn":"1"}`),
		Sender:            "0xsender",
		Recipient:         "0xsender",
		SlippageTolerance: 50,
		Deadline:          time.Now().Add(time.Minute).Unix(),
	})
	require.NoError(t, err)
	assert.Equal(t, testRouter, built.RouterAddress)
	assert.Equal(t, "0xe21fd0e9", built.Data)
}

type scriptedSource struct {
	calls chan chan result
}

type result struct {
	quote *RawRouteQuote
	err   error
}

func (s *scriptedSource) FetchQuote(ctx context.Context, params QuoteParams) (*RawRouteQuote, error) {
	reply := make(chan result, 1)
	s.calls <- reply
	r := <-reply
	return r.quote, r.err
}

func TestFetcher_LastRequestWins(t *testing.T) {
	src := &scriptedSource{calls: make(chan chan result, 2)}
	f := NewFetcher(src)

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), testParams())
		firstErr <- err
	}()
	firstReply := <-src.calls

	secondDone := make(chan *RawRouteQuote, 1)
	go func() {
		q, err := f.Fetch(context.Background(), testParams())
		assert.NoError(t, err)
		secondDone <- q
	}()
	secondReply := <-src.calls

	// newer request resolves first
	secondReply <- result{quote: &RawRouteQuote{AmountOut: "2"}}
	q := <-secondDone
	assert.Equal(t, uint64(2), q.Sequence)

	// older request resolves late and is dropped
	firstReply <- result{quote: &RawRouteQuote{AmountOut: "1"}}
	assert.ErrorIs(t, <-firstErr, types.ErrSuperseded)
	assert.Equal(t, uint64(2), f.Latest())
}

type blockingSource struct {
	started chan struct{}
}

func (s *blockingSource) FetchQuote(ctx context.Context, params QuoteParams) (*RawRouteQuote, error) {
	close(s.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFetcher_InvalidateCancelsInFlight(t *testing.T) {
	src := &blockingSource{started: make(chan struct{})}
	f := NewFetcher(src)

	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), testParams())
		done <- err
	}()
	<-src.started

	f.Invalidate()
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, types.ErrSuperseded))
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight fetch was not cancelled")
	}
}
