// Package ncbiweb submits searches through the NCBI BLAST URL API
// (Blast.cgi, also served by BLAST AMI instances) and polls for results.
package ncbiweb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blastgcp/blastq/internal/domain"
	"github.com/blastgcp/blastq/internal/fasta"
	"github.com/blastgcp/blastq/internal/platform/web"
	"github.com/blastgcp/blastq/internal/tabular"
)

// DefaultDatabases are the nucleotide databases offered by the public
// service for blastn.
var DefaultDatabases = []string{
	"nt", "core_nt", "refseq_rna", "refseq_genomic", "refseq_representative_genomes",
	"refseq_select_rna", "wgs", "est", "gss", "htgs", "pat", "pdb", "tsa_nt",
	"16S_ribosomal_RNA", "18S_fungal_sequences", "28S_fungal_sequences", "ITS_RefSeq_Fungi",
}

// Options configures a Client.
type Options struct {
	BaseURL      string
	Program      string
	Databases    []string
	PollInterval time.Duration
	MaxWait      time.Duration
	Tool         string
	Email        string

	HTTPClient *http.Client
	// Limiter throttles every request to BaseURL. Nil means one request
	// per PollInterval with a burst of 3.
	Limiter *web.RateLimiter
	Logger  *slog.Logger
}

// Client is a QBLAST URL API client. It is safe for concurrent use.
type Client struct {
	base      *url.URL
	opts      Options
	databases map[string]struct{}
	http      *http.Client
	limiter   *web.RateLimiter
	log       *slog.Logger
}

// Check if Client implements domain.JobClient
var _ domain.JobClient = (*Client)(nil)

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(opts.BaseURL))
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, &domain.ConfigError{Key: "base-url", Err: fmt.Errorf("invalid URL %q", opts.BaseURL)}
	}
	if opts.Program == "" {
		opts.Program = "blastn"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = time.Hour
	}
	if len(opts.Databases) == 0 {
		opts.Databases = DefaultDatabases
	}

	c := &Client{
		base:      base,
		opts:      opts,
		databases: domain.TargetSet(opts.Databases...),
		http:      opts.HTTPClient,
		limiter:   opts.Limiter,
		log:       opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 2 * time.Minute}
	}
	if c.limiter == nil {
		c.limiter = web.NewRateLimiter(1/opts.PollInterval.Seconds(), 3)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

// String names the endpoint in log and user messages.
func (c *Client) String() string {
	return c.base.String()
}

// ListSupportedTargets returns the configured database list. The URL API has
// no listing call.
func (c *Client) ListSupportedTargets(context.Context) (map[string]struct{}, error) {
	return c.databases, nil
}

// Submit issues CMD=Put for one query and returns its RID as the handle ID.
func (c *Client) Submit(ctx context.Context, q domain.Query, target string) (domain.JobHandle, error) {
	form := url.Values{
		"CMD":      {"Put"},
		"PROGRAM":  {c.opts.Program},
		"DATABASE": {target},
		"QUERY":    {fasta.Format(q)},
	}
	if c.opts.Program == "blastn" {
		form.Set("MEGABLAST", "on")
	}
	if c.opts.Tool != "" {
		form.Set("TOOL", c.opts.Tool)
	}
	if c.opts.Email != "" {
		form.Set("EMAIL", c.opts.Email)
	}

	page, err := c.do(ctx, http.MethodPost, form)
	if err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{QueryID: q.ID, Err: err}
	}

	info := parseInfo(page)
	rid := info["RID"]
	if rid == "" {
		msgs := pageErrors(page)
		if len(msgs) == 0 {
			msgs = []string{"no RID in response"}
		}
		return domain.JobHandle{}, &domain.SubmissionError{QueryID: q.ID, Messages: msgs}
	}
	c.log.Info("Connected to BLAST web service", "url", c.base.Host, "rid", rid, "estimatedSeconds", info.rtoe())
	return domain.JobHandle{ID: rid, QueryID: q.ID, Target: target}, nil
}

// Wait polls SearchInfo every PollInterval until the search is READY or
// FAILED, then fetches the tabular report.
func (c *Client) Wait(ctx context.Context, h domain.JobHandle) (domain.JobResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, c.opts.MaxWait)
	defer cancel()

	res, err := c.poll(waitCtx, h)
	switch {
	case err == nil:
		return res, nil
	case ctx.Err() != nil:
		return domain.JobResult{}, fmt.Errorf("job %s: %w", h.ID, domain.ErrCancelled)
	case waitCtx.Err() != nil:
		return domain.JobResult{}, &domain.TimeoutError{JobID: h.ID, After: c.opts.MaxWait}
	default:
		return domain.JobResult{}, &domain.PollingError{JobID: h.ID, Err: err}
	}
}

func (c *Client) poll(ctx context.Context, h domain.JobHandle) (domain.JobResult, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		page, err := c.do(ctx, http.MethodGet, url.Values{
			"CMD":           {"Get"},
			"FORMAT_OBJECT": {"SearchInfo"},
			"RID":           {h.ID},
		})
		if err != nil {
			return domain.JobResult{}, err
		}

		info := parseInfo(page)
		status := strings.ToUpper(info["Status"])
		c.log.Debug("Search status", "rid", h.ID, "status", status)

		switch status {
		case statusWaiting:
		case statusReady:
			if !info.hasHits() {
				return domain.Success(nil), nil
			}
			return c.fetch(ctx, h)
		case statusFailed:
			msgs := pageErrors(page)
			if len(msgs) == 0 {
				msgs = []string{fmt.Sprintf("search %s failed", h.ID)}
			}
			return domain.Failure(msgs...), nil
		case statusUnknown:
			return domain.JobResult{}, fmt.Errorf("RID %s is unknown or expired", h.ID)
		default:
			return domain.JobResult{}, fmt.Errorf("unexpected search status %q", info["Status"])
		}

		select {
		case <-ctx.Done():
			return domain.JobResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) fetch(ctx context.Context, h domain.JobHandle) (domain.JobResult, error) {
	page, err := c.do(ctx, http.MethodGet, url.Values{
		"CMD":            {"Get"},
		"FORMAT_TYPE":    {"Tabular"},
		"ALIGNMENT_VIEW": {"Tabular"},
		"RID":            {h.ID},
	})
	if err != nil {
		return domain.JobResult{}, err
	}

	if msgs := pageErrors(page); len(msgs) > 0 {
		return domain.Failure(msgs...), nil
	}
	rows, err := tabular.Parse(strings.NewReader(reportText(page)))
	if err != nil {
		return domain.JobResult{}, fmt.Errorf("parse report for %s: %w", h.ID, err)
	}
	return domain.Success(rows), nil
}

// do sends one throttled request and returns the body of a 200 response.
func (c *Client) do(ctx context.Context, method string, params url.Values) (string, error) {
	if err := c.limiter.Wait(ctx, c.base.Host); err != nil {
		return "", err
	}

	var (
		req *http.Request
		err error
	)
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.base.String(), strings.NewReader(params.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		u := *c.base
		u.RawQuery = params.Encode()
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.New("unexpected HTTP status " + resp.Status)
	}
	return string(body), nil
}
