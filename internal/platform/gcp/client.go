// Package gcp is the client side of the BLAST-GCP backend: HTTP for
// submissions and database listing, a websocket for job completion.
package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blastgcp/blastq/internal/domain"
	"github.com/blastgcp/blastq/internal/wire"
)

// Options configures a Client.
type Options struct {
	// Address is the gateway as host:port or a full http(s) URL.
	Address string
	Program string
	MaxWait time.Duration

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger
}

// Client talks to a BLAST-GCP gateway.
// It is safe for concurrent use; every Wait opens its own websocket.
type Client struct {
	base    *url.URL
	program string
	maxWait time.Duration
	http    *http.Client
	dialer  *websocket.Dialer
	log     *slog.Logger
}

// Check if Client implements domain.JobClient
var _ domain.JobClient = (*Client)(nil)

// New validates opts and returns a Client. No network traffic happens here.
func New(opts Options) (*Client, error) {
	base, err := ParseAddress(opts.Address)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:    base,
		program: opts.Program,
		maxWait: opts.MaxWait,
		http:    opts.HTTPClient,
		dialer:  opts.Dialer,
		log:     opts.Logger,
	}
	if c.program == "" {
		c.program = "blastn"
	}
	if c.maxWait <= 0 {
		c.maxWait = 30 * time.Minute
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: time.Minute}
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

// ParseAddress accepts "host:port" or an http(s) URL.
func ParseAddress(addr string) (*url.URL, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, &domain.ConfigError{Key: "blast-gcp.service-address", Err: errors.New("empty address")}
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, &domain.ConfigError{Key: "blast-gcp.service-address", Err: fmt.Errorf("invalid address %q", addr)}
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

// String names the gateway in log and user messages.
func (c *Client) String() string {
	return c.base.Host
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path += path
	u.RawQuery = query.Encode()
	return u.String()
}

// ListSupportedTargets fetches the databases the gateway accepts.
func (c *Client) ListSupportedTargets(ctx context.Context) (map[string]struct{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/databases", nil), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list databases: %s", remoteMessage(resp))
	}
	var body wire.DatabasesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode databases: %w", err)
	}
	c.log.Debug("Gateway databases", "address", c.base.Host, "databases", body.Databases)
	return domain.TargetSet(body.Databases...), nil
}

// Submit sends one query to the gateway.
func (c *Client) Submit(ctx context.Context, q domain.Query, target string) (domain.JobHandle, error) {
	payload, err := json.Marshal(wire.SubmitRequest{
		QueryID:  q.ID,
		Sequence: q.Sequence,
		Database: target,
		Program:  c.program,
	})
	if err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{QueryID: q.ID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/search", nil), bytes.NewReader(payload))
	if err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{QueryID: q.ID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{QueryID: q.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return domain.JobHandle{}, &domain.SubmissionError{
			QueryID:  q.ID,
			Messages: []string{remoteMessage(resp)},
		}
	}

	var body wire.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{QueryID: q.ID, Err: fmt.Errorf("decode response: %w", err)}
	}
	if body.JobID == "" {
		return domain.JobHandle{}, &domain.SubmissionError{QueryID: q.ID, Err: errors.New("gateway returned no job id")}
	}
	return domain.JobHandle{ID: body.JobID, QueryID: q.ID, Target: target}, nil
}

// Wait watches the job over a websocket until it reaches a terminal state.
func (c *Client) Wait(ctx context.Context, h domain.JobHandle) (domain.JobResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.maxWait)
	defer cancel()

	res, err := c.watch(waitCtx, h)
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return domain.JobResult{}, fmt.Errorf("job %s: %w", h.ID, domain.ErrCancelled)
	case waitCtx.Err() != nil:
		return domain.JobResult{}, &domain.TimeoutError{JobID: h.ID, After: c.maxWait}
	default:
		return domain.JobResult{}, &domain.PollingError{JobID: h.ID, Err: err}
	}
}

func (c *Client) watch(ctx context.Context, h domain.JobHandle) (domain.JobResult, error) {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/api/ws"
	u.RawQuery = url.Values{"job_id": {h.ID}}.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return domain.JobResult{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, h.ID)
		}
		return domain.JobResult{}, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	defer conn.Close()

	// Unblock ReadJSON when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var st domain.JobStatus
		if err := conn.ReadJSON(&st); err != nil {
			if ctx.Err() != nil {
				return domain.JobResult{}, ctx.Err()
			}
			return domain.JobResult{}, fmt.Errorf("job stream closed before completion: %w", err)
		}
		c.log.Debug("Job status", "jobID", h.ID, "status", st.State)
		if st.State.Terminal() {
			return st.Result(), nil
		}
	}
}

func remoteMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var er wire.ErrorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		return er.Error
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return msg
	}
	return resp.Status
}
