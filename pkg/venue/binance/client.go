// Package binance implements the venue.Gateway against Binance USDT-M futures.
// All string-typed payload fields are parsed here; callers only ever see the
// numeric venue types.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/iBuild-ts/Binance-trading-bot/pkg/venue"
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
}

// Client handles Binance USDT-M futures.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	timeSync   *TimeSync
	limiter    *rate.Limiter
}

var _ venue.Gateway = (*Client)(nil)

// NewClient creates a new USDT-M futures client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, &venue.ConfigError{Reason: "binance: API key/secret required"}
	}
	base := "https://fapi.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// 2400 weight/min for futures; pace well under it.
		limiter: rate.NewLimiter(rate.Limit(20), 40),
	}
	c.timeSync = NewTimeSync(c.GetServerTime)
	return c, nil
}

// StartTimeSync begins periodic clock synchronization with the venue.
func (c *Client) StartTimeSync(ctx context.Context) {
	c.timeSync.Start(ctx)
}

func (c *Client) now() int64 {
	if off := c.timeSync.Offset(); off != 0 {
		return c.timeSync.Now()
	}
	return time.Now().UnixMilli()
}

// PlaceOrder submits an order and returns the normalized acknowledgement.
func (c *Client) PlaceOrder(ctx context.Context, req venue.OrderRequest) (venue.OrderAck, error) {
	params := url.Values{}
	params.Set("symbol", req.Instrument)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	if !req.ClosePosition {
		params.Set("quantity", formatFloat(req.Qty))
	}

	if req.Type == venue.OrderTypeLimit {
		params.Set("price", formatFloat(req.Price))
		tif := req.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		params.Set("timeInForce", tif)
	}
	if req.Type == venue.OrderTypeStopMarket || req.Type == venue.OrderTypeTakeProfit {
		params.Set("stopPrice", formatFloat(req.StopPrice))
	}
	if req.ClientID != "" {
		params.Set("newClientOrderId", req.ClientID)
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClosePosition {
		params.Set("closePosition", "true")
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return venue.OrderAck{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return venue.OrderAck{}, fmt.Errorf("binance: decode order: %w", err)
	}
	return resp.normalize()
}

// CancelOrder cancels an order by instrument and venue order ID.
func (c *Client) CancelOrder(ctx context.Context, instrument, orderID string) error {
	params := url.Values{}
	params.Set("symbol", instrument)
	params.Set("orderId", orderID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	return err
}

// CancelAllOpenOrders cancels every open order on an instrument.
func (c *Client) CancelAllOpenOrders(ctx context.Context, instrument string) error {
	params := url.Values{}
	params.Set("symbol", instrument)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params)
	return err
}

// GetPositions returns open positions; instrument optional. Flat entries
// (zero quantity) are dropped.
func (c *Client) GetPositions(ctx context.Context, instrument string) ([]venue.Position, error) {
	params := url.Values{}
	if instrument != "" {
		params.Set("symbol", instrument)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}
	var raw []positionRisk
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode positions: %w", err)
	}
	out := make([]venue.Position, 0, len(raw))
	for _, p := range raw {
		pos, err := p.normalize()
		if err != nil {
			return nil, err
		}
		if pos.Quantity == 0 {
			continue
		}
		out = append(out, pos)
	}
	return out, nil
}

// GetOpenOrders returns open orders; instrument optional.
func (c *Client) GetOpenOrders(ctx context.Context, instrument string) ([]venue.OpenOrder, error) {
	params := url.Values{}
	if instrument != "" {
		params.Set("symbol", instrument)
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/openOrders", params)
	if err != nil {
		return nil, err
	}
	var raw []openOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode open orders: %w", err)
	}
	out := make([]venue.OpenOrder, 0, len(raw))
	for _, o := range raw {
		ord, err := o.normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, ord)
	}
	return out, nil
}

// GetAccountBalance returns the USDT futures wallet balance.
func (c *Client) GetAccountBalance(ctx context.Context) (venue.Balance, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return venue.Balance{}, err
	}
	var raw []futuresBalance
	if err := json.Unmarshal(body, &raw); err != nil {
		return venue.Balance{}, fmt.Errorf("binance: decode balance: %w", err)
	}
	for _, b := range raw {
		if b.Asset == "USDT" {
			return b.normalize()
		}
	}
	return venue.Balance{}, fmt.Errorf("binance: no USDT balance in response")
}

// GetRealizedTrades returns fills for an instrument since the given time.
func (c *Client) GetRealizedTrades(ctx context.Context, instrument string, since time.Time) ([]venue.RealizedTrade, error) {
	params := url.Values{}
	params.Set("symbol", instrument)
	if !since.IsZero() {
		params.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/userTrades", params)
	if err != nil {
		return nil, err
	}
	var raw []userTrade
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode user trades: %w", err)
	}
	out := make([]venue.RealizedTrade, 0, len(raw))
	for _, t := range raw {
		rt, err := t.normalize()
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, nil
}

// GetPrice returns the current mark price for an instrument.
func (c *Client) GetPrice(ctx context.Context, instrument string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	u := c.baseURL + "/fapi/v1/premiumIndex?symbol=" + url.QueryEscape(instrument)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return 0, classifyResponse(res.StatusCode, body)
	}
	var out struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("binance: decode mark price: %w", err)
	}
	return parseFloat("markPrice", out.MarkPrice)
}

// SetLeverage sets leverage for an instrument.
func (c *Client) SetLeverage(ctx context.Context, instrument string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", instrument)
	params.Set("leverage", strconv.Itoa(leverage))
	_, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params)
	return err
}

// GetServerTime fetches futures server time.
func (c *Client) GetServerTime() (int64, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/fapi/v1/time")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return 0, classifyResponse(resp.StatusCode, b)
	}
	var res struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, err
	}
	return res.ServerTime, nil
}

// doSigned handles signing and sending authenticated requests.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	var (
		req *http.Request
		err error
	)
	endpoint := c.baseURL + path
	encoded := params.Encode()
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if w := res.Header.Get("X-MBX-USED-WEIGHT-1M"); w != "" {
		logWeight(w)
	}

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, classifyResponse(res.StatusCode, body)
	}
	return body, nil
}

// classifyResponse maps an HTTP error response to a typed error. A parseable
// Binance error body on a 4xx is a business rejection; everything else keeps
// the HTTP status for transient classification upstream.
func classifyResponse(status int, body []byte) error {
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != 0 {
			return &venue.RejectionError{Code: apiErr.Code, Message: apiErr.Msg}
		}
	}
	return &venue.HTTPError{Status: status, Body: strings.TrimSpace(string(body))}
}

func logWeight(header string) {
	used, err := strconv.Atoi(header)
	if err != nil {
		return
	}
	const limit = 2400
	pct := float64(used) / limit * 100
	if pct >= 95 {
		log.Printf("binance: rate limit critical: %d/%d (%.1f%%)", used, limit, pct)
	} else if pct >= 80 {
		log.Printf("binance: rate limit warning: %d/%d (%.1f%%)", used, limit, pct)
	}
}

func sign(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
