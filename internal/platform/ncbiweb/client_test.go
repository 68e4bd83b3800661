package ncbiweb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blastgcp/blastq/internal/domain"
	"github.com/blastgcp/blastq/internal/platform/web"
)

const putPage = `<html><body>
<!--QBlastInfoBegin
    RID = 8ZK1A2B3016
    RTOE = 12
QBlastInfoEnd
-->
</body></html>`

const rejectPage = `<html><body>
<div id="msgR"><ul class="msg"><li class="error">Message ID#24 Error: Failed to read the Blast query: Nucleotide FASTA provided for protein sequence</li></ul></div>
</body></html>`

const reportPage = `<html><body><pre>
# blastn
# Query: seq1
# Database: nt
# Fields: query acc.ver, subject acc.ver, % identity, alignment length, mismatches, gap opens, q. start, q. end, s. start, s. end, evalue, bit score
# 1 hits found
seq1	NM_000518.5	100.000	120	0	0	1	120	51	170	2.13e-57	222
</pre></body></html>`

func infoPage(status, hits string) string {
	return fmt.Sprintf("<html><!--\nQBlastInfoBegin\n\tStatus=%s\nQBlastInfoEnd\n-->\n<!--\nQBlastInfoBegin\n\tThereAreHits=%s\nQBlastInfoEnd\n--></html>", status, hits)
}

// fakeBlastCGI emulates Blast.cgi: a search stays WAITING for `waiting`
// SearchInfo calls before reporting `final`.
type fakeBlastCGI struct {
	put     string
	waiting int
	final   string
	hits    string
	report  string

	mu    sync.Mutex
	polls int
	form  map[string]string
}

func (f *fakeBlastCGI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Form.Get("CMD") == "Put":
		f.form = map[string]string{}
		for k := range r.PostForm {
			f.form[k] = r.PostForm.Get(k)
		}
		fmt.Fprint(w, f.put)
	case r.Form.Get("FORMAT_OBJECT") == "SearchInfo":
		f.polls++
		if f.polls <= f.waiting {
			fmt.Fprint(w, infoPage(statusWaiting, "no"))
			return
		}
		fmt.Fprint(w, infoPage(f.final, f.hits))
	case r.Form.Get("FORMAT_TYPE") == "Tabular":
		fmt.Fprint(w, f.report)
	default:
		http.Error(w, "bad request", http.StatusBadRequest)
	}
}

func (f *fakeBlastCGI) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeBlastCGI) submitted() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.form
}

func newTestClient(t *testing.T, h http.Handler, maxWait time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Options{
		BaseURL:      srv.URL + "/Blast.cgi",
		PollInterval: 5 * time.Millisecond,
		MaxWait:      maxWait,
		Tool:         "web-blast",
		Email:        "user@example.org",
		Limiter:      web.NewRateLimiter(10000, 100),
	})
	require.NoError(t, err)
	return c
}

func TestSubmitParsesRID(t *testing.T) {
	f := &fakeBlastCGI{put: putPage}
	c := newTestClient(t, f, time.Second)

	h, err := c.Submit(context.Background(), domain.Query{ID: "seq1 beta globin", Sequence: "ACGT"}, "nt")
	require.NoError(t, err)
	assert.Equal(t, domain.JobHandle{ID: "8ZK1A2B3016", QueryID: "seq1 beta globin", Target: "nt"}, h)

	form := f.submitted()
	assert.Equal(t, "blastn", form["PROGRAM"])
	assert.Equal(t, "on", form["MEGABLAST"])
	assert.Equal(t, "nt", form["DATABASE"])
	assert.Equal(t, ">seq1 beta globin\nACGT\n", form["QUERY"])
	assert.Equal(t, "web-blast", form["TOOL"])
	assert.Equal(t, "user@example.org", form["EMAIL"])
}

func TestSubmitRejected(t *testing.T) {
	c := newTestClient(t, &fakeBlastCGI{put: rejectPage}, time.Second)

	_, err := c.Submit(context.Background(), domain.Query{ID: "q"}, "nt")
	var subErr *domain.SubmissionError
	require.ErrorAs(t, err, &subErr)
	require.Len(t, subErr.Messages, 1)
	assert.Contains(t, subErr.Messages[0], "Failed to read the Blast query")
}

func TestSubmitHTTPError(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	})
	c := newTestClient(t, h, time.Second)

	_, err := c.Submit(context.Background(), domain.Query{ID: "q"}, "nt")
	var subErr *domain.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.ErrorContains(t, subErr.Err, "503")
}

func TestWaitReadyWithHits(t *testing.T) {
	f := &fakeBlastCGI{waiting: 2, final: statusReady, hits: "yes", report: reportPage}
	c := newTestClient(t, f, time.Second)
	h := domain.JobHandle{ID: "8ZK1A2B3016", QueryID: "seq1"}

	res, err := c.Wait(context.Background(), h)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "NM_000518.5", res.Rows[0].SubjectAcc)
	assert.Equal(t, 3, f.pollCount())

	again, err := c.Wait(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestWaitReadyNoHits(t *testing.T) {
	c := newTestClient(t, &fakeBlastCGI{final: statusReady, hits: "no"}, time.Second)

	res, err := c.Wait(context.Background(), domain.JobHandle{ID: "R"})
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.Empty(t, res.Rows)
}

func TestWaitFailedSearch(t *testing.T) {
	c := newTestClient(t, &fakeBlastCGI{final: statusFailed}, time.Second)

	res, err := c.Wait(context.Background(), domain.JobHandle{ID: "R"})
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, []string{"search R failed"}, res.Errors)
}

func TestWaitUnknownRID(t *testing.T) {
	c := newTestClient(t, &fakeBlastCGI{final: statusUnknown}, time.Second)

	_, err := c.Wait(context.Background(), domain.JobHandle{ID: "R"})
	var pollErr *domain.PollingError
	require.ErrorAs(t, err, &pollErr)
	assert.ErrorContains(t, err, "unknown or expired")
}

func TestWaitTimeout(t *testing.T) {
	c := newTestClient(t, &fakeBlastCGI{waiting: 1 << 30}, 40*time.Millisecond)

	_, err := c.Wait(context.Background(), domain.JobHandle{ID: "R"})
	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)
}

func TestWaitCancelled(t *testing.T) {
	c := newTestClient(t, &fakeBlastCGI{waiting: 1 << 30}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := c.Wait(ctx, domain.JobHandle{ID: "R"})
	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestListSupportedTargets(t *testing.T) {
	c, err := New(Options{BaseURL: "https://blast.ncbi.nlm.nih.gov/Blast.cgi"})
	require.NoError(t, err)
	got, err := c.ListSupportedTargets(context.Background())
	require.NoError(t, err)
	assert.Contains(t, got, "nt")
	assert.NotContains(t, got, "nr")

	c, err = New(Options{BaseURL: "http://ami.example/cgi-bin/blast.cgi", Databases: []string{"pdbnt"}})
	require.NoError(t, err)
	got, err = c.ListSupportedTargets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.TargetSet("pdbnt"), got)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New(Options{BaseURL: "blast.ncbi.nlm.nih.gov"})
	assert.ErrorIs(t, err, domain.ErrConfig)
}

func TestParseInfo(t *testing.T) {
	info := parseInfo(putPage)
	assert.Equal(t, "8ZK1A2B3016", info["RID"])
	assert.Equal(t, 12, info.rtoe())

	info = parseInfo(infoPage(statusReady, "yes"))
	assert.Equal(t, statusReady, info["Status"])
	assert.True(t, info.hasHits())
}

func TestReportText(t *testing.T) {
	assert.Contains(t, reportText(reportPage), "seq1\tNM_000518.5")
	assert.Equal(t, "plain\ttext", reportText("plain\ttext"))
	assert.Empty(t, reportText("<html><body>nothing</body></html>"))
}
