// Package remote is the client side of the LAN replication endpoint.
// A Client is the "remote handle" of one collection.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/xelth-com/dairysync/internal/docstore"
)

var (
	// ErrNoRemote is returned when a collection has no remote handle
	ErrNoRemote = errors.New("no remote endpoint configured")
	// ErrUnauthorized means the endpoint rejected the credentials
	ErrUnauthorized = errors.New("remote rejected credentials")
)

// StatusError is a non-2xx reply from the endpoint
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.Code, e.Reason)
}

const (
	defaultRequestTimeout = 30 * time.Second
	// compress bulk_docs bodies larger than this
	snappyThreshold = 4 * 1024
)

// NewHTTPClient creates an HTTP client that dials IPv4 only. LAN endpoints
// are addressed by IPv4 and some field routers mishandle IPv6.
func NewHTTPClient() *http.Client {
	ipv4Dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return ipv4Dialer.DialContext(ctx, "tcp4", addr)
			},
			MaxIdleConns:    100,
			IdleConnTimeout: 90 * time.Second,
		},
	}
}

// Client talks to one database (collection) on the endpoint
type Client struct {
	base     *url.URL
	db       string
	username string
	password string

	http           *http.Client
	requestTimeout time.Duration
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default IPv4 client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRequestTimeout bounds every call except the long-poll wait
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithBasicAuth sets the credentials sent on every call
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// New creates a handle for db at baseURL. Credentials embedded in the URL
// are moved to basic auth so they never show up in logs or checkpoint ids.
func New(baseURL, db string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse remote url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported remote url scheme %q", u.Scheme)
	}
	if db == "" {
		return nil, fmt.Errorf("remote database name is required")
	}

	c := &Client{
		base:           u,
		db:             db,
		http:           NewHTTPClient(),
		requestTimeout: defaultRequestTimeout,
	}
	if u.User != nil {
		c.username = u.User.Username()
		c.password, _ = u.User.Password()
		u.User = nil
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL returns the database URL without credentials
func (c *Client) URL() string {
	return c.base.String() + "/" + url.PathEscape(c.db)
}

// Info fetches the database info; the replication manager uses it as the
// reachability probe.
func (c *Client) Info(ctx context.Context) (docstore.Info, error) {
	var info docstore.Info
	err := c.do(ctx, c.requestTimeout, http.MethodGet, "", nil, nil, &info)
	return info, err
}

// Changes reads the change feed after since without waiting
func (c *Client) Changes(ctx context.Context, since uint64, limit int) ([]docstore.Change, error) {
	resp, err := c.changes(ctx, since, limit, 0)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// WaitChanges long-polls the change feed: the server answers as soon as
// there are changes after since, or with an empty list after timeout.
func (c *Client) WaitChanges(ctx context.Context, since uint64, limit int, timeout time.Duration) ([]docstore.Change, error) {
	resp, err := c.changes(ctx, since, limit, timeout)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) changes(ctx context.Context, since uint64, limit int, wait time.Duration) (*ChangesResponse, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatUint(since, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	timeout := c.requestTimeout
	if wait > 0 {
		q.Set("feed", "longpoll")
		q.Set("timeout", strconv.FormatInt(wait.Milliseconds(), 10))
		timeout += wait
	}

	var resp ChangesResponse
	if err := c.do(ctx, timeout, http.MethodGet, "/_changes", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RevsDiff asks which of the given revisions the endpoint lacks
func (c *Client) RevsDiff(ctx context.Context, revs map[string][]string) (map[string][]string, error) {
	var resp map[string]RevsDiffEntry
	if err := c.do(ctx, c.requestTimeout, http.MethodPost, "/_revs_diff", nil, revs, &resp); err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(resp))
	for id, entry := range resp {
		if len(entry.Missing) > 0 {
			out[id] = entry.Missing
		}
	}
	return out, nil
}

// BulkGet fetches revisions with their ancestry
func (c *Client) BulkGet(ctx context.Context, refs []docstore.RevRef) ([]docstore.Revision, error) {
	var resp BulkGetResponse
	if err := c.do(ctx, c.requestTimeout, http.MethodPost, "/_bulk_get", nil, BulkGetRequest{Docs: refs}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// BulkDocs stores replicated revisions on the endpoint as-is
func (c *Client) BulkDocs(ctx context.Context, revs []docstore.Revision) error {
	return c.do(ctx, c.requestTimeout, http.MethodPost, "/_bulk_docs", nil, BulkDocsRequest{Docs: revs, NewEdits: false}, nil)
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, query url.Values, in, out interface{}) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target := c.URL() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	compressed := false
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		if path == "/_bulk_docs" && len(data) > snappyThreshold {
			data = snappy.Encode(nil, data)
			compressed = true
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if compressed {
		req.Header.Set("Content-Encoding", SnappyEncoding)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		reason := e.Error
		if e.Reason != "" {
			reason += ": " + e.Reason
		}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", docstore.ErrNotFound, reason)
		}
		return &StatusError{Code: resp.StatusCode, Reason: reason}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
