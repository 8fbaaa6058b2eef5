// Package wbapi is the HTTP client for the Wildberries supplies API
// acceptance-coefficients endpoint.
package wbapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"coefbot/internal/model"
	logx "coefbot/pkg/logx"
	"coefbot/pkg/tgui"

	"golang.org/x/time/rate"
)

const coefficientsPath = "/acceptance/coefficients"

// maxErrorBody caps, in runes, how much of an error response is kept in StatusError.
const maxErrorBody = 200

type Options struct {
	BaseURL    string
	APIKey     string
	UserAgent  string
	RatePerSec float64
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
	Log        logx.Logger
}

type Client struct {
	base      string
	apiKey    string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	log       logx.Logger
}

func New(opts Options) (*Client, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if _, err := url.Parse(base); err != nil || base == "" {
		return nil, fmt.Errorf("wbapi: invalid base url %q", opts.BaseURL)
	}
	hc := opts.HTTPClient
	if hc == nil {
		// Per-call deadlines come from ctx; this is only a backstop.
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	rps := opts.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Client{
		base:      base,
		apiKey:    key,
		userAgent: opts.UserAgent,
		http:      hc,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		log:       opts.Log,
	}, nil
}

// FetchCoefficients returns the current coefficients for the given
// warehouses. Malformed items are skipped and logged; the call only fails on
// transport, status or decode errors. ids must be non-empty.
func (c *Client) FetchCoefficients(ctx context.Context, ids []model.WarehouseID) ([]model.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	q := url.Values{}
	q.Set("warehouseIDs", strings.Join(parts, ","))
	u := c.base + coefficientsPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request %s: %w", coefficientsPath, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(body, maxErrorBody)}
	}

	// Items are decoded one by one so a single bad item cannot sink the batch.
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return c.toRecords(raw), nil
}

func (c *Client) toRecords(raw []json.RawMessage) []model.Record {
	out := make([]model.Record, 0, len(raw))
	skipped := 0
	for _, item := range raw {
		var r rawCoefficient
		if err := json.Unmarshal(item, &r); err != nil {
			c.log.Debug("undecodable coefficient item", logx.Err(err))
			skipped++
			continue
		}
		rec, ok := toRecord(r)
		if !ok {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	if skipped > 0 {
		c.log.Warn("skipped malformed coefficient items", logx.Int("skipped", skipped), logx.Int("total", len(raw)))
	}
	return out
}

func toRecord(r rawCoefficient) (model.Record, bool) {
	if r.WarehouseID == 0 {
		return model.Record{}, false
	}
	date, ok := model.DateFromTimestamp(r.Date)
	if !ok {
		return model.Record{}, false
	}
	coef, ok := parseCoefficient(r.Coefficient)
	if !ok {
		return model.Record{}, false
	}
	return model.Record{
		WarehouseID: model.WarehouseID(r.WarehouseID),
		Date:        date,
		Coefficient: coef,
		BoxType:     r.BoxTypeName,
	}, true
}

// parseCoefficient accepts integral numbers only ("4" or "4.0").
func parseCoefficient(n json.Number) (int, bool) {
	if n == "" {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return int(i), true
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil || f != float64(int64(f)) {
		return 0, false
	}
	return int(f), true
}

// truncate cuts on rune boundaries; error bodies are often Cyrillic.
func truncate(b []byte, maxRunes int) string {
	return tgui.TruncRunes(strings.TrimSpace(string(b)), maxRunes)
}
