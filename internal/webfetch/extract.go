package webfetch

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"
)

const pdfPageLimit = 50

// htmlExtract is the result of parsing an HTML body.
type htmlExtract struct {
	Title     string
	Text      string
	Canonical string
	Language  string
}

// extractHTML parses body with a DOM and runs readability over it, falling
// back to stripped-tag text when readability yields nothing. Title
// precedence: og:title, then <title>, then "Untitled".
func extractHTML(body []byte, pageURL *url.URL) htmlExtract {
	out := htmlExtract{Title: "Untitled"}

	doc, docErr := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if docErr == nil {
		if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
			out.Title = strings.TrimSpace(og)
		} else if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
			out.Title = t
		}
		if og, ok := doc.Find(`meta[property="og:url"]`).Attr("content"); ok && strings.TrimSpace(og) != "" {
			out.Canonical = strings.TrimSpace(og)
		} else if href, ok := doc.Find(`link[rel="canonical"]`).Attr("href"); ok && strings.TrimSpace(href) != "" {
			out.Canonical = strings.TrimSpace(href)
		}
		if lang, ok := doc.Find("html").Attr("lang"); ok {
			out.Language = strings.TrimSpace(lang)
		}
	}

	if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		out.Text = strings.TrimSpace(article.TextContent)
	}
	if out.Text == "" && docErr == nil {
		doc.Find("script, style, noscript").Remove()
		out.Text = strings.TrimSpace(doc.Text())
	}
	return out
}

// extractPDF pulls text from a PDF buffer: the whole-document reader first,
// then a page-by-page pass over at most the first 50 pages when that comes
// back empty.
func extractPDF(data []byte) (text string, pageCount int, err error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("parse pdf: %w", err)
	}
	pageCount = reader.NumPage()

	if rdr, perr := reader.GetPlainText(); perr == nil {
		var buf bytes.Buffer
		if _, cerr := buf.ReadFrom(rdr); cerr == nil {
			text = strings.TrimSpace(buf.String())
		}
	}
	if text != "" {
		return text, pageCount, nil
	}

	limit := pageCount
	if limit > pdfPageLimit {
		limit = pdfPageLimit
	}
	var parts []string
	for i := 1; i <= limit; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, perr := page.GetPlainText(nil)
		if perr != nil {
			continue
		}
		if content = strings.TrimSpace(content); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n"), pageCount, nil
}

// stripTags is the last-resort extraction for unknown content types.
func stripTags(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return strings.TrimSpace(string(body))
	}
	doc.Find("script, style, noscript").Remove()
	return strings.TrimSpace(doc.Text())
}

var (
	horizontalWS = regexp.MustCompile(`[ \t\f\r]+`)
	newlineRuns  = regexp.MustCompile(`\n{3,}`)
)

// normalizeText applies NFKC, collapses horizontal whitespace, and squashes
// runs of three or more newlines down to two.
func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = horizontalWS.ReplaceAllString(s, " ")
	s = newlineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
