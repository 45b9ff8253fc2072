// Package measure implements the HTTP client for the measurement chart API.
// Every request is context-aware and paced by a shared rate limiter. There
// is no retry: a failed request fails the load that issued it.
package measure

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/derickschaefer/kwchart/internal/model"
)

const userAgent = "kwchart/1.0"

// StatusError is returned for any non-200 response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
}

// Query is one chart request. Start and End are Unix seconds.
type Query struct {
	Start    int64
	End      int64
	Agg      string
	Interval string
	Miss     string
	TZ       string
}

// Encode renders the query string in a fixed parameter order:
// start, end, agg, int, miss, tz. url.Values would sort the keys.
func (q Query) Encode() string {
	pairs := [][2]string{
		{"start", strconv.FormatInt(q.Start, 10)},
		{"end", strconv.FormatInt(q.End, 10)},
		{"agg", q.Agg},
		{"int", q.Interval},
		{"miss", q.Miss},
		{"tz", q.TZ},
	}
	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(p[0])
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p[1]))
	}
	return sb.String()
}

// ZoneAbbrev returns the abbreviation of loc in effect at unix seconds ts
// ("UTC", "CET", "CEST").
func ZoneAbbrev(loc *time.Location, ts int64) string {
	if loc == nil {
		loc = time.UTC
	}
	name, _ := time.Unix(ts, 0).In(loc).Zone()
	return name
}

// Client is the measurement API HTTP client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

// NewClient creates a Client. A ratePerSec of zero or less disables pacing.
func NewClient(baseURL, token string, timeout time.Duration, ratePerSec float64, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	limit := rate.Inf
	burst := 1
	if ratePerSec > 0 {
		limit = rate.Limit(ratePerSec)
		if b := int(ratePerSec); b > 1 {
			burst = b
		}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		log:        log,
	}
}

// ChartURL returns the request URL for variable and q.
func (c *Client) ChartURL(variable string, q Query) string {
	return c.baseURL + "/measurements/" + url.PathEscape(variable) + "/chart?" + q.Encode()
}

// Chart fetches the aggregated series of one variable. Timestamps in the
// result are Unix seconds; null values become NaN.
func (c *Client) Chart(ctx context.Context, variable string, q Query) ([]model.Point, error) {
	var pts []model.Point
	if err := c.get(ctx, c.ChartURL(variable, q), &pts); err != nil {
		return nil, fmt.Errorf("chart %s: %w", variable, err)
	}
	return pts, nil
}

func (c *Client) get(ctx context.Context, reqURL string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	c.log.Debug("measurement request", "url", reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}
	c.log.Debug("measurement response", "status", resp.StatusCode, "bytes", len(body))

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
