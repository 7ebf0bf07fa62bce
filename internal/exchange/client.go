// Package exchange implements the Polymarket CLOB REST and WebSocket clients.
//
// The REST surface is split by authentication level using two Go types:
// ReadOnlyClient exposes only unauthenticated endpoints (order book,
// midpoint, order status). Client embeds *ReadOnlyClient and adds the
// authenticated, order-mutating endpoints (PostOrders, CancelOrders,
// CancelAll, DeriveAPIKey). `run` without a signer configured builds a
// Client around a ReadOnlyClient's transport via NewDryRunClient — its
// order-mutating methods short-circuit on the dry-run flag before ever
// touching auth, so no signature is ever required. `scan` never opens a
// CLOB REST handle at all; it only talks to the public Gamma API.
//
//   - GetOrderBook:       GET  /book               — fetch L2 book for a token
//   - GetMidpoint:        GET  /midpoint           — fetch current midpoint
//   - GetOrder:           GET  /order/{id}         — fetch one order's fill state
//   - PostOrders:         POST /orders              — batch-place up to 15 signed orders
//   - CancelOrders:       DELETE /orders            — cancel specific orders by ID
//   - CancelAll:          DELETE /cancel-all         — emergency cancel everything
//   - CancelMarketOrders: DELETE /cancel-market-orders — cancel one market's orders
//   - DeriveAPIKey:       GET  /auth/derive-api-key — bootstrap L2 creds from L1 wallet
//
// Every mutating request is authenticated with L2 HMAC headers. Rate
// limiting is advisory and owned by the portfolio controller
// (internal/ratelimit), not this client — a caller must check CanPlace
// before calling PostOrders/CancelOrders.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"polymarket-mm/internal/config"
	"polymarket-mm/pkg/types"
)

// ReadOnlyClient wraps the subset of the CLOB REST API that requires no
// signing: order book, midpoint, and order-status reads.
type ReadOnlyClient struct {
	http   *resty.Client
	logger *slog.Logger
}

// NewReadOnlyClient builds a REST client exposing only unauthenticated CLOB
// endpoints. Used directly wherever only order-book/midpoint/order-status
// reads are needed, and embedded inside Client (see NewAuthenticatedClient,
// NewDryRunClient) for the authenticated cases that also need it.
func NewReadOnlyClient(cfg config.Config, logger *slog.Logger) *ReadOnlyClient {
	return &ReadOnlyClient{
		http:   newHTTPClient(cfg.API.CLOBBaseURL),
		logger: logger.With("component", "exchange"),
	}
}

func newHTTPClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
}

// GetOrderBook fetches the order book for a single token.
func (c *ReadOnlyClient) GetOrderBook(ctx context.Context, tokenID string) (*types.BookResponse, error) {
	var result types.BookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// GetMidpoint fetches the current midpoint price for a token.
func (c *ReadOnlyClient) GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	var result types.MidpointResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/midpoint")
	if err != nil {
		return decimal.Zero, fmt.Errorf("get midpoint: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("get midpoint: status %d: %s", resp.StatusCode(), resp.String())
	}
	mid, err := decimal.NewFromString(result.Mid)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse midpoint %q: %w", result.Mid, err)
	}
	return mid, nil
}

// GetOrder fetches the current status and fill state of a single order.
func (c *ReadOnlyClient) GetOrder(ctx context.Context, orderID string) (*types.OrderDetail, error) {
	var result types.OrderDetail
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/order/" + orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get order: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// Client is the authenticated Polymarket CLOB REST API client. It embeds
// ReadOnlyClient so every read endpoint is also available through it.
type Client struct {
	*ReadOnlyClient
	auth   *Auth
	dryRun bool
}

// NewAuthenticatedClient creates a REST client that can place and cancel
// orders, backed by a real signer.
func NewAuthenticatedClient(cfg config.Config, auth *Auth, logger *slog.Logger) *Client {
	return &Client{
		ReadOnlyClient: &ReadOnlyClient{
			http:   newHTTPClient(cfg.API.CLOBBaseURL),
			logger: logger.With("component", "exchange"),
		},
		auth:   auth,
		dryRun: cfg.DryRun,
	}
}

// NewDryRunClient builds a Client with no signer at all, for `run` when no
// wallet private key is configured. Its auth field is left nil; every
// order-mutating method checks dryRun (forced true here regardless of
// cfg.DryRun) before it would otherwise need to sign anything, so the nil
// auth is never dereferenced.
func NewDryRunClient(cfg config.Config, logger *slog.Logger) *Client {
	return &Client{
		ReadOnlyClient: NewReadOnlyClient(cfg, logger),
		dryRun:         true,
	}
}

// buildOrderPayload converts a high-level UserOrder into the on-chain
// SignedOrder + metadata the REST API expects. It converts the price/size
// to big.Int maker/taker amounts at the market's tick precision, sets the
// maker to the funder wallet (proxy), the signer to the EOA, and the taker
// to the zero address (open order, anyone can fill).
func (c *Client) buildOrderPayload(order types.UserOrder) types.OrderPayload {
	tickSize := order.TickSize
	if tickSize == "" {
		tickSize = types.Tick001
	}
	makerAmt, takerAmt := PriceToAmounts(order.Price, order.Size, order.Side, tickSize)

	return types.OrderPayload{
		Order: types.SignedOrder{
			Maker:         c.auth.FunderAddress().Hex(),
			Signer:        c.auth.Address().Hex(),
			Taker:         "0x0000000000000000000000000000000000000000",
			TokenID:       order.TokenID,
			MakerAmount:   makerAmt,
			TakerAmount:   takerAmt,
			Side:          order.Side,
			Expiration:    fmt.Sprintf("%d", order.Expiration),
			Nonce:         "0",
			FeeRateBps:    fmt.Sprintf("%d", order.FeeRateBps),
			SignatureType: c.auth.sigType,
		},
		Owner:     c.auth.creds.ApiKey,
		OrderType: order.OrderType,
	}
}

// PostOrders places up to 15 orders in a batch. Callers must check the
// advisory rate limiter before calling this; PostOrders itself does not
// block or retry on rate-limit responses.
func (c *Client) PostOrders(ctx context.Context, orders []types.UserOrder, negRisk bool) ([]types.OrderResponse, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	if len(orders) > 15 {
		return nil, fmt.Errorf("batch limit is 15 orders, got %d", len(orders))
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would post orders", "count", len(orders))
		results := make([]types.OrderResponse, len(orders))
		for i := range orders {
			results[i] = types.OrderResponse{Success: true, OrderID: fmt.Sprintf("dry-run-%d", i), Status: "live"}
		}
		return results, nil
	}

	payloads := make([]types.OrderPayload, len(orders))
	for i, order := range orders {
		payloads[i] = c.buildOrderPayload(order)
	}

	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("marshal orders: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var results []types.OrderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payloads).
		SetResult(&results).
		Post("/orders")
	if err != nil {
		return nil, fmt.Errorf("post orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("post orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	return results, nil
}

// CancelOrders cancels multiple orders by ID.
func (c *Client) CancelOrders(ctx context.Context, orderIDs []string) (*types.CancelResponse, error) {
	if len(orderIDs) == 0 {
		return &types.CancelResponse{}, nil
	}
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel orders", "count", len(orderIDs))
		return &types.CancelResponse{Canceled: orderIDs}, nil
	}

	payload := struct {
		OrderIDs []string `json:"orderIDs"`
	}{OrderIDs: orderIDs}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal cancel request: %w", err)
	}
	headers, err := c.auth.L2Headers("DELETE", "/orders", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/orders")
	if err != nil {
		return nil, fmt.Errorf("cancel orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel orders: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Info("orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelAll cancels every open order across all markets.
func (c *Client) CancelAll(ctx context.Context) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders")
		return &types.CancelResponse{}, nil
	}

	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Delete("/cancel-all")
	if err != nil {
		return nil, fmt.Errorf("cancel all: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel all: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.logger.Warn("all orders cancelled", "count", len(result.Canceled))
	return &result, nil
}

// CancelMarketOrders cancels all orders for a specific market.
func (c *Client) CancelMarketOrders(ctx context.Context, conditionID string) (*types.CancelResponse, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel market orders", "market", conditionID)
		return &types.CancelResponse{}, nil
	}

	body := fmt.Sprintf(`{"market":"%s"}`, conditionID)
	headers, err := c.auth.L2Headers("DELETE", "/cancel-market-orders", body)
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result types.CancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/cancel-market-orders")
	if err != nil {
		return nil, fmt.Errorf("cancel market orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel market orders: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &result, nil
}

// DeriveAPIKey derives L2 API credentials via L1 authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	c.logger.Info("API key derived", "api_key", result.ApiKey)
	return &result, nil
}
