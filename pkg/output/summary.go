package output

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"

	"github.com/Sriram-PR/codex-crawler/pkg/models"
)

// WriteSummaryMarkdown renders a human-readable report of a site's crawl stages
func WriteSummaryMarkdown(w io.Writer, siteKey string, stages []models.CrawlMetadata) error {
	md := markdown.NewMarkdown(w)

	md.H1("Crawl Report: " + siteKey)
	md.PlainText("")

	rows := make([][]string, 0, len(stages))
	for _, s := range stages {
		rows = append(rows, []string{
			s.Stage,
			"`" + s.RunID + "`",
			s.CrawlEndTime.Sub(s.CrawlStartTime).Round(10 * time.Millisecond).String(),
			strconv.Itoa(s.Discovered),
			strconv.Itoa(s.Admitted),
			strconv.Itoa(s.Succeeded),
			strconv.Itoa(s.Failed),
		})
	}
	md.Table(markdown.TableSet{
		Header: []string{"Stage", "Run ID", "Duration", "Discovered", "Admitted", "Succeeded", "Failed"},
		Rows:   rows,
	})
	md.PlainText("")

	var outputs []string
	for _, s := range stages {
		for _, o := range s.Outputs {
			outputs = append(outputs, fmt.Sprintf("`%s` (sha256 `%s`)", o.Path, o.SHA256))
		}
	}
	if len(outputs) > 0 {
		md.H2("Outputs")
		md.PlainText("")
		md.BulletList(outputs...)
		md.PlainText("")
	}

	var failures [][]string
	for _, s := range stages {
		for _, f := range s.Failures {
			failures = append(failures, []string{s.Stage, f.URL, f.ErrorType})
		}
	}
	md.H2("Failures")
	md.PlainText("")
	if len(failures) == 0 {
		md.PlainText("No failed visits.")
	} else {
		md.Table(markdown.TableSet{
			Header: []string{"Stage", "URL", "Category"},
			Rows:   failures,
		})
	}
	md.PlainText("")

	return md.Build()
}
