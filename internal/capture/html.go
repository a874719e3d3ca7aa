package capture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

const maxPageBytes = 5 << 20

var mainContentSelectors = []string{
	"article", "main", ".main-content", ".entry-content", ".post-content", ".post-body", ".article-body",
	"[role='main']",
	".content", "#content",
}

const blockSelector = "p, h1, h2, h3, h4, h5, h6, li, blockquote, pre"

var blankLines = regexp.MustCompile(`\n\s*\n+`)

// ExtractText returns the readable text and title of an HTML document.
// Navigation, scripts and similar boilerplate are removed. An explicit main
// content container wins; without one the readability scorer picks the
// article node, and the whole body is the last resort. pageURL may be empty.
func ExtractText(htmlContent, pageURL string) (text, title string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}

	title = extractTitle(doc)

	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, .sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner").Remove()

	var sb strings.Builder
	for _, selector := range mainContentSelectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) { collectBlocks(&sb, s) })
		if sb.Len() > 0 {
			break
		}
	}
	if sb.Len() == 0 {
		article, atitle := readableArticle(htmlContent, pageURL)
		if article != nil {
			collectBlocks(&sb, article.Selection)
		}
		if title == "" {
			title = atitle
		}
	}
	if sb.Len() == 0 {
		collectBlocks(&sb, doc.Find("body"))
	}
	if sb.Len() == 0 {
		sb.WriteString(doc.Find("body").Text())
	}

	return strings.TrimSpace(blankLines.ReplaceAllString(sb.String(), "\n\n")), title, nil
}

// collectBlocks appends the text of each block element under sel as its own paragraph.
func collectBlocks(sb *strings.Builder, sel *goquery.Selection) {
	sel.Find(blockSelector).Each(func(_ int, item *goquery.Selection) {
		if t := strings.TrimSpace(item.Text()); t != "" {
			sb.WriteString(t)
			sb.WriteString("\n\n")
		}
	})
}

// readableArticle runs the readability scorer and returns its article HTML as
// a document. A nil document means nothing readable was found.
func readableArticle(htmlContent, pageURL string) (*goquery.Document, string) {
	base, err := url.Parse(pageURL)
	if err != nil || pageURL == "" {
		base = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(htmlContent), base)
	if err != nil || strings.TrimSpace(article.Content) == "" {
		return nil, ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return nil, ""
	}
	return doc, strings.TrimSpace(article.Title)
}

func extractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("head title").First().Text()); t != "" {
		return t
	}
	if og, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(og) != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// FetchPage downloads the HTML of url.
func FetchPage(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL %s: status code %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response body from %s: %w", url, err)
	}
	return string(body), nil
}
