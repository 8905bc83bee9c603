package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// FetcherTimeout bounds each page request
	FetcherTimeout = 30 * time.Second

	// FetcherUserAgent identifies us to the sites we fetch
	FetcherUserAgent = "LLM-Council-Fetcher/1.0"

	// MaxFetchedContentLength caps extracted text so a pasted page can't
	// blow up the council prompts
	MaxFetchedContentLength = 8000
)

// FetchURLContent fetches a web page and extracts its readable content for
// use as question context. Returns the page title, meta description, and
// body text with scripts and styles stripped, capped at
// MaxFetchedContentLength characters.
func FetchURLContent(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, FetcherTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", FetcherUserAgent)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("URL returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	return ExtractPageContent(doc), nil
}

// ExtractPageContent reduces a parsed page to readable text: title, meta
// description, then the main text content.
func ExtractPageContent(doc *goquery.Document) string {
	var content strings.Builder

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		content.WriteString(title)
		content.WriteString("\n\n")
	}

	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		if desc = strings.TrimSpace(desc); desc != "" {
			content.WriteString(desc)
			content.WriteString("\n\n")
		}
	}

	// Boilerplate contributes nothing to a question's context.
	doc.Find("script, style, noscript, nav, header, footer").Remove()

	// Prefer semantic content containers, fall back to body text.
	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}

	root.Find("h1, h2, h3, h4, p, li").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		content.WriteString(text)
		content.WriteString("\n")
	})

	result := strings.TrimSpace(content.String())
	if len(result) > MaxFetchedContentLength {
		result = result[:MaxFetchedContentLength]
	}
	return result
}
