package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/papertrade/market-sim/internal/logging"
	"github.com/papertrade/market-sim/internal/metrics"
	"github.com/papertrade/market-sim/internal/money"
)

const (
	DefaultBaseURL = "https://www.alphavantage.co/query"
	DefaultTimeout = 10 * time.Second
)

// AlphaVantage is a Quoter backed by the Alpha Vantage query API.
type AlphaVantage struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Option configures an AlphaVantage client.
type Option func(*AlphaVantage)

// WithBaseURL points the client at another endpoint (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *AlphaVantage) { c.baseURL = u }
}

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) Option {
	return func(c *AlphaVantage) { c.client.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *AlphaVantage) { c.client = hc }
}

// NewAlphaVantage creates a client using apiKey.
func NewAlphaVantage(apiKey string, opts ...Option) *AlphaVantage {
	c := &AlphaVantage{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// globalQuoteResponse is the GLOBAL_QUOTE payload. Note and Information
// are set instead of the quote when the caller is rate limited.
type globalQuoteResponse struct {
	GlobalQuote  map[string]string `json:"Global Quote"`
	Note         string            `json:"Note"`
	Information  string            `json:"Information"`
	ErrorMessage string            `json:"Error Message"`
}

type moversResponse struct {
	TopGainers  []moverPayload `json:"top_gainers"`
	TopLosers   []moverPayload `json:"top_losers"`
	Note        string         `json:"Note"`
	Information string         `json:"Information"`
}

type moverPayload struct {
	Ticker           string `json:"ticker"`
	Price            string `json:"price"`
	ChangePercentage string `json:"change_percentage"`
}

func (c *AlphaVantage) Quote(ctx context.Context, symbol string) (Quote, error) {
	var payload globalQuoteResponse
	if err := c.get(ctx, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}}, &payload); err != nil {
		c.observe(ctx, symbol, err)
		return Quote{}, err
	}

	q, err := parseGlobalQuote(symbol, payload)
	c.observe(ctx, symbol, err)
	return q, err
}

func parseGlobalQuote(symbol string, payload globalQuoteResponse) (Quote, error) {
	if payload.Note != "" || payload.Information != "" {
		return Quote{}, fmt.Errorf("%w: rate limited", ErrUnavailable)
	}
	if payload.ErrorMessage != "" {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	if len(payload.GlobalQuote) == 0 {
		return Quote{}, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	raw, ok := payload.GlobalQuote["05. price"]
	if !ok {
		return Quote{}, fmt.Errorf("%w: price missing for %s", ErrUnavailable, symbol)
	}
	price, err := money.Parse(raw)
	if err != nil || !price.IsPositive() {
		return Quote{}, fmt.Errorf("%w: bad price %q for %s", ErrUnavailable, raw, symbol)
	}

	sym := payload.GlobalQuote["01. symbol"]
	if sym == "" {
		sym = symbol
	}
	return Quote{Symbol: sym, Name: symbol, Price: price.Round()}, nil
}

// Movers returns at most five gainers and five losers.
func (c *AlphaVantage) Movers(ctx context.Context) ([]Mover, []Mover, error) {
	var payload moversResponse
	if err := c.get(ctx, url.Values{"function": {"TOP_GAINERS_LOSERS"}}, &payload); err != nil {
		return nil, nil, err
	}
	if payload.Note != "" || payload.Information != "" {
		return nil, nil, fmt.Errorf("%w: rate limited", ErrUnavailable)
	}
	return convertMovers(payload.TopGainers), convertMovers(payload.TopLosers), nil
}

func convertMovers(in []moverPayload) []Mover {
	if len(in) > 5 {
		in = in[:5]
	}
	out := make([]Mover, 0, len(in))
	for _, p := range in {
		price, err := money.Parse(p.Price)
		if err != nil {
			continue
		}
		out = append(out, Mover{Symbol: p.Ticker, Price: price, ChangePercent: p.ChangePercentage})
	}
	return out
}

func (c *AlphaVantage) get(ctx context.Context, params url.Values, dst interface{}) error {
	if c.apiKey == "" {
		return fmt.Errorf("%w: no API key configured", ErrUnavailable)
	}
	params.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, redactKey(err, c.apiKey))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *AlphaVantage) observe(ctx context.Context, symbol string, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrUnknownSymbol):
		outcome = "unknown"
	case err != nil:
		outcome = "unavailable"
		logging.FromContext(ctx).WithError(err).WithField("symbol", symbol).Warn("quote lookup failed")
	}
	metrics.QuoteLookups.WithLabelValues("provider", outcome).Inc()
}

// redactKey strips the API key from URL errors.
func redactKey(err error, key string) string {
	return strings.ReplaceAll(err.Error(), key, "REDACTED")
}
