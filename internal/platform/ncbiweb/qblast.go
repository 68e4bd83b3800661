package ncbiweb

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Search states reported by CMD=Get FORMAT_OBJECT=SearchInfo.
const (
	statusWaiting = "WAITING"
	statusReady   = "READY"
	statusFailed  = "FAILED"
	statusUnknown = "UNKNOWN"
)

var (
	infoBlockRe = regexp.MustCompile(`(?s)QBlastInfoBegin(.*?)QBlastInfoEnd`)
	infoLineRe  = regexp.MustCompile(`(?m)^\s*(\w+)\s*=\s*(\S*)\s*$`)
)

// qblastInfo holds the key = value pairs of every QBlastInfo comment block
// in a page.
type qblastInfo map[string]string

func parseInfo(page string) qblastInfo {
	info := qblastInfo{}
	for _, block := range infoBlockRe.FindAllStringSubmatch(page, -1) {
		for _, kv := range infoLineRe.FindAllStringSubmatch(block[1], -1) {
			info[kv[1]] = kv[2]
		}
	}
	return info
}

// rtoe is the server's estimate of the search time, in seconds.
func (i qblastInfo) rtoe() int {
	n, _ := strconv.Atoi(i["RTOE"])
	return n
}

func (i qblastInfo) hasHits() bool {
	return strings.EqualFold(i["ThereAreHits"], "yes")
}

// pageErrors collects the messages NCBI renders in elements of class
// "error" (submission form errors and failed search pages).
func pageErrors(page string) []string {
	if !strings.Contains(page, "<") {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil
	}

	var msgs []string
	seen := map[string]bool{}
	doc.Find(".error").Each(func(_ int, s *goquery.Selection) {
		// Nested .error elements repeat their parent's text.
		if s.Find(".error").Length() > 0 {
			return
		}
		msg := strings.Join(strings.Fields(s.Text()), " ")
		if msg != "" && !seen[msg] {
			seen[msg] = true
			msgs = append(msgs, msg)
		}
	})
	return msgs
}

// reportText returns the tabular report from a Get response: the <pre>
// content of an HTML page, or the body itself when it is plain text.
func reportText(page string) string {
	if !strings.Contains(page, "<") {
		return page
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return page
	}
	pre := doc.Find("pre")
	if pre.Length() == 0 {
		return ""
	}
	var b strings.Builder
	pre.Each(func(_ int, s *goquery.Selection) {
		b.WriteString(s.Text())
		b.WriteString("\n")
	})
	return b.String()
}
