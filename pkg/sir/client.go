// Package sir is a client for the SIR traffic-analytics API: observation
// dates, top prefixes by volume, retention purges and application variables.
package sir

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/newtron-network/fibopt/pkg/util"
	"github.com/newtron-network/fibopt/pkg/window"
)

const apiPrefix = "/api/v1.0"

// ErrEmptyResult is returned when the API answers successfully with no data.
// Callers treat it as failure, never as "zero results".
var ErrEmptyResult = errors.New("empty result")

// StatusError is a non-2xx HTTP answer.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client talks to one SIR instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithInsecureSkipVerify disables TLS certificate verification
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Client) {
		if !skip {
			return
		}
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		c.http.Transport = tr
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client for the API rooted at baseURL (e.g. http://127.0.0.1:5000).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// envelope is the common response wrapper of every endpoint.
type envelope struct {
	Meta       json.RawMessage `json:"meta"`
	Parameters json.RawMessage `json:"parameters"`
	Result     json.RawMessage `json:"result"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, result interface{}) error {
	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	util.WithField("endpoint", path).Debugf("%s %s", method, u)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, URL: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if result == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return ErrEmptyResult
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return fmt.Errorf("decoding %s result: %w", path, err)
	}
	return nil
}

// AvailableDates returns the timestamps for which flow data exists, oldest first.
func (c *Client) AvailableDates(ctx context.Context) ([]time.Time, error) {
	var raw []string
	if err := c.do(ctx, http.MethodGet, "/pmacct/dates", nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, ErrEmptyResult
	}
	return window.ParseTimes(raw)
}

// TopPrefix is one entry of a top-N answer.
type TopPrefix struct {
	Key   string  `json:"key"`
	Bytes float64 `json:"sum_bytes"`
}

// TopPrefixesQuery selects the top prefixes by volume within a window.
type TopPrefixesQuery struct {
	Start           time.Time
	End             time.Time
	Limit           int
	NetMasks        []int // only these mask lengths
	ExcludeNetMasks []int // any mask length but these
	Proto           int   // 4 or 6
}

func (q TopPrefixesQuery) values() url.Values {
	v := url.Values{}
	v.Set("start_time", q.Start.Format(window.TimeFormat))
	v.Set("end_time", q.End.Format(window.TimeFormat))
	v.Set("limit_prefixes", strconv.Itoa(q.Limit))
	if len(q.NetMasks) > 0 {
		v.Set("net_masks", joinInts(q.NetMasks))
	}
	if len(q.ExcludeNetMasks) > 0 {
		v.Set("exclude_net_masks", joinInts(q.ExcludeNetMasks))
	}
	if q.Proto != 0 {
		v.Set("filter_proto", strconv.Itoa(q.Proto))
	}
	return v
}

// TopPrefixes returns the top prefixes by traffic volume. An empty answer is ErrEmptyResult.
func (c *Client) TopPrefixes(ctx context.Context, q TopPrefixesQuery) ([]TopPrefix, error) {
	var result []TopPrefix
	if err := c.do(ctx, http.MethodGet, "/analytic/top_prefixes", q.values(), &result); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, ErrEmptyResult
	}
	return result, nil
}

// PurgeBGP deletes BGP data older than the given time.
func (c *Client) PurgeBGP(ctx context.Context, olderThan time.Time) error {
	return c.purge(ctx, "/pmacct/purge_bgp", olderThan)
}

// PurgeFlows deletes flow data older than the given time.
func (c *Client) PurgeFlows(ctx context.Context, olderThan time.Time) error {
	return c.purge(ctx, "/pmacct/purge_flows", olderThan)
}

func (c *Client) purge(ctx context.Context, path string, olderThan time.Time) error {
	q := url.Values{}
	q.Set("older_than", olderThan.Format(window.TimeFormat))
	return c.do(ctx, http.MethodDelete, path, q, nil)
}

// Variable is an application variable stored in SIR.
type Variable struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

// Variable fetches the single variable category/name.
func (c *Client) Variable(ctx context.Context, category, name string) (*Variable, error) {
	var result []Variable
	path := "/variables/categories/" + url.PathEscape(category) + "/" + url.PathEscape(name)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if len(result) != 1 {
		return nil, fmt.Errorf("expected one variable %s/%s, found %d", category, name, len(result))
	}
	return &result[0], nil
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
