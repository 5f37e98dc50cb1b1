package nasa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/briangreenhill/apodrating/internal/apod"
)

const (
	DefaultBaseURL = "https://api.nasa.gov"
	DefaultPath    = "/planetary/apod"
)

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 1 << 20

type Client struct {
	http    *http.Client
	baseURL *url.URL
	path    string
	limiter *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil {
			c.baseURL = u
		}
	}
}
func WithPath(p string) Option {
	return func(c *Client) {
		if p != "" {
			c.path = p
		}
	}
}

// WithRateLimit caps outbound requests per second. Zero or less means no limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

func New(opts ...Option) *Client {
	u, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		baseURL: u,
		path:    DefaultPath,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) newReq(ctx context.Context, date, apiKey string) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join(u.Path, c.path)
	q := u.Query()
	q.Set("date", date)
	q.Set("api_key", apiKey)
	q.Set("hd", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// Fetch performs one request for date and maps the response into a record
// carrying id. Every failure is an *UpstreamError.
func (c *Client) Fetch(ctx context.Context, id, date, apiKey string) (apod.Record, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return apod.Record{}, c.classify(ctx, err)
	}

	req, err := c.newReq(ctx, date, apiKey)
	if err != nil {
		return apod.Record{}, &UpstreamError{Kind: KindUnavailable, Err: errors.New("build request")}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apod.Record{}, c.classify(ctx, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return apod.Record{}, c.classify(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apod.Record{}, &UpstreamError{
			Kind:   KindUnavailable,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("GET %s: %s: %s", c.path, resp.Status, truncate(body, 200)),
		}
	}

	return parseRecord(id, resp.Header.Get("Content-Type"), body)
}

func parseRecord(id, contentType string, body []byte) (apod.Record, error) {
	if mt, _, err := mime.ParseMediaType(contentType); err != nil || mt != "application/json" {
		return apod.Record{}, &UpstreamError{Kind: KindMalformed, Err: fmt.Errorf("unexpected content type %q", contentType)}
	}
	if !gjson.ValidBytes(body) {
		return apod.Record{}, &UpstreamError{Kind: KindMalformed, Err: errors.New("invalid json body")}
	}

	fields := gjson.GetManyBytes(body, "date", "title", "hdurl")
	for i, name := range []string{"date", "title", "hdurl"} {
		if fields[i].Type != gjson.String || fields[i].Str == "" {
			return apod.Record{}, &UpstreamError{Kind: KindMalformed, Err: fmt.Errorf("missing field %q", name)}
		}
	}

	return apod.Record{
		ID:         id,
		Date:       fields[0].Str,
		Title:      fields[1].Str,
		ImageURLHD: fields[2].Str,
	}, nil
}

// classify maps transport errors onto upstream error kinds. The request URL
// carries the api key, so a *url.Error is reduced to its cause.
func (c *Client) classify(ctx context.Context, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = fmt.Errorf("%s %s: %w", urlErr.Op, c.redacted(), urlErr.Err)
	}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return &UpstreamError{Kind: KindTimeout, Err: err}
	case ctx.Err() != nil:
		return &UpstreamError{Kind: KindUnavailable, Err: ctx.Err()}
	default:
		return &UpstreamError{Kind: KindUnavailable, Err: err}
	}
}

// redacted is the endpoint without its query string.
func (c *Client) redacted() string {
	u := *c.baseURL
	u.Path = path.Join(u.Path, c.path)
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
