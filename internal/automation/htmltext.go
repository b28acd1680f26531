package automation

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// PageText is the readable content of a page.
type PageText struct {
	URL   string
	Title string
	Text  string
}

// visibleText strips non-content elements from HTML and returns the
// collapsed body text.
func visibleText(url, html string) (PageText, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageText{}, eris.Wrap(err, "automation: parse html")
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, svg, iframe, template, head").Remove()

	var parts []string
	collectText(doc.Find("body"), &parts)
	return PageText{
		URL:   url,
		Title: title,
		Text:  strings.Join(strings.Fields(strings.Join(parts, " ")), " "),
	}, nil
}

// collectText appends every text node under sel. Text() alone would glue
// adjacent block elements together.
func collectText(sel *goquery.Selection, parts *[]string) {
	sel.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			*parts = append(*parts, c.Text())
			return
		}
		collectText(c, parts)
	})
}
