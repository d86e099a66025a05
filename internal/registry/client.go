package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blackwell-systems/npmdash/internal/config"
)

// ErrNotFound matches a 404 that was not a "no stats" response.
var ErrNotFound = errors.New("registry: package not found")

// StatusError is returned for any non-success status that is not mapped to
// a zero count.
type StatusError struct {
	StatusCode int
	Message    string // "error" field of the payload, if any
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("registry: unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("registry: unexpected status %d", e.StatusCode)
}

// Is reports 404s as ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Options configures the registry client.
type Options struct {
	// BaseURL is the statistics host.
	// Default: https://api.npmjs.org
	BaseURL string

	// UserAgent is sent with every request.
	// Default: npmdash
	UserAgent string

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// HTTPClient overrides the transport entirely (tests).
	HTTPClient *http.Client

	// Logger receives payload warnings. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns options pointing at the public registry.
func DefaultOptions() Options {
	return Options{
		BaseURL:             config.DefaultRegistryURL,
		UserAgent:           "npmdash",
		MaxIdleConnsPerHost: 16,
	}
}

// Point is the registry's answer for one package over one period.
type Point struct {
	Package   string
	Downloads int64
	Start     string
	End       string

	// NoStats is set when the registry answered 404 "no stats".
	NoStats bool
}

// Client fetches download counts. It is safe for concurrent use.
type Client struct {
	client    *http.Client
	baseURL   string
	userAgent string
	log       *slog.Logger
}

// NewClient creates a client. There is no request timeout;
// calls end when the server answers or the context is cancelled.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
				MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		client:    hc,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		userAgent: opts.UserAgent,
		log:       opts.Logger,
	}
}

// PointURL returns the request URL for a package and period.
func (c *Client) PointURL(period config.PeriodKey, name string) string {
	return c.baseURL + "/downloads/point/" + string(period) + "/" + EncodeComponent(name)
}

// pointPayload covers both the success and the error shapes.
type pointPayload struct {
	Downloads json.Number `json:"downloads"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Package   string `json:"package"`
	Error     any    `json:"error"`
}

// PointDownloads returns the total downloads of name over period.
func (c *Client) PointDownloads(ctx context.Context, period config.PeriodKey, name string) (Point, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PointURL(period, name), nil)
	if err != nil {
		return Point{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return Point{}, fmt.Errorf("request downloads for %s: %w", name, err)
	}
	defer resp.Body.Close()

	var payload pointPayload
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return Point{}, ctx.Err()
		}
		c.log.Warn("unable to read downloads payload", "package", name, "status", resp.StatusCode, "err", err)
	} else if err := json.Unmarshal(body, &payload); err != nil {
		// Tolerated: an unparseable body is treated as an empty object.
		c.log.Warn("unable to parse downloads payload", "package", name, "status", resp.StatusCode, "err", err)
		payload = pointPayload{}
	}

	message := payload.errorMessage()

	if resp.StatusCode == http.StatusNotFound && IsNoStats(message) {
		return Point{Package: name, NoStats: true}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Point{}, &StatusError{StatusCode: resp.StatusCode, Message: message}
	}

	point := Point{
		Package: name,
		Start:   payload.Start,
		End:     payload.End,
	}
	point.Downloads, err = payload.count()
	if err != nil {
		c.log.Warn("unable to parse download count", "package", name, "downloads", payload.Downloads.String(), "err", err)
		point.Downloads = 0
	}
	if point.Downloads < 0 {
		c.log.Warn("negative download count clamped to zero", "package", name, "downloads", point.Downloads)
		point.Downloads = 0
	}
	return point, nil
}

// count converts the downloads field to an integer. Absent or null yields 0;
// fractional values such as 12.0 are truncated.
func (p pointPayload) count() (int64, error) {
	if p.Downloads == "" {
		return 0, nil
	}
	if n, err := p.Downloads.Int64(); err == nil {
		return n, nil
	}
	f, err := p.Downloads.Float64()
	if err != nil {
		return 0, err
	}
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64, nil
	case f <= math.MinInt64:
		return math.MinInt64, nil
	}
	return int64(f), nil
}

// errorMessage stringifies the payload's error field. Only strings and
// scalars carry a message; objects and arrays yield "" so their contents can
// never match "no stats".
func (p pointPayload) errorMessage() string {
	switch v := p.Error.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// IsNoStats reports whether a registry error message means "no data yet".
func IsNoStats(message string) bool {
	return strings.Contains(strings.ToLower(message), "no stats")
}

// EncodeComponent escapes s like JavaScript's encodeURIComponent, so scoped
// names become "%40scope%2Fname".
func EncodeComponent(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	// encodeURIComponent leaves these unescaped; QueryEscape does not.
	for _, r := range []struct{ from, to string }{
		{"%21", "!"}, {"%27", "'"}, {"%28", "("}, {"%29", ")"}, {"%2A", "*"},
	} {
		escaped = strings.ReplaceAll(escaped, r.from, r.to)
	}
	return escaped
}
