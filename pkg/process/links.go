package process

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractLinks returns the raw href of every anchor in body, in document order.
// Hrefs are not resolved or deduplicated; that is the filter's job.
// Content that cannot be parsed yields no links.
func ExtractLinks(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	return LinksFromDocument(doc)
}

// LinksFromDocument is ExtractLinks for an already parsed document
func LinksFromDocument(doc *goquery.Document) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		links = append(links, href)
	})
	return links
}
