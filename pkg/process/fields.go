package process

import (
	"bytes"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/Sriram-PR/codex-crawler/pkg/utils"
)

// FieldExtractor pulls the title and description of a page using CSS selectors
type FieldExtractor struct {
	TitleSelector       string
	DescriptionSelector string
	Markdown            bool // Convert the description's HTML to markdown instead of plain text

	converter *md.Converter
}

// NewFieldExtractor creates a FieldExtractor. When markdown is false the
// description is the element's whitespace-collapsed text.
func NewFieldExtractor(titleSelector, descriptionSelector string, markdown bool) *FieldExtractor {
	fe := &FieldExtractor{
		TitleSelector:       titleSelector,
		DescriptionSelector: descriptionSelector,
		Markdown:            markdown,
	}
	if markdown {
		fe.converter = md.NewConverter("", true, nil)
	}
	return fe
}

// Extract returns the title and description found in body. Missing elements
// give empty strings; only a failed markdown conversion is reported as an error.
func (fe *FieldExtractor) Extract(body []byte) (title, description string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", nil
	}

	title = collapseSpace(doc.Find(fe.TitleSelector).First().Text())

	descSel := doc.Find(fe.DescriptionSelector).First()
	if descSel.Length() == 0 {
		return title, "", nil
	}
	if !fe.Markdown {
		return title, collapseSpace(descSel.Text()), nil
	}

	cleanupHTML(descSel)
	inner, err := descSel.Html()
	if err != nil {
		return title, "", fmt.Errorf("%w: reading description HTML: %w", utils.ErrExtraction, err)
	}
	converted, err := fe.converter.ConvertString(inner)
	if err != nil {
		return title, "", fmt.Errorf("%w: %w", utils.ErrMarkdownConversion, err)
	}
	return title, strings.TrimSpace(converted), nil
}

// cleanupHTML removes anchors that carry no text before markdown conversion
func cleanupHTML(content *goquery.Selection) {
	content.Find("a.headerlink, a.permalink").Remove()
	content.Find("script, style").Remove()
	content.Find("a").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		href, _ := s.Attr("href")
		if text == "¶" || text == "#" || (text == "" && strings.HasPrefix(href, "#")) {
			s.Remove()
		}
	})
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
