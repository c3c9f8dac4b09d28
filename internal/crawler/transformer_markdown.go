package crawler

import (
	"fmt"
	"net/url"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// MarkdownTransformer converts page HTML into Markdown and extracts the
// title, description, and outbound links. Relative links resolve against
// the page URL.
type MarkdownTransformer struct {
	converter *md.Converter
	logger    *zap.Logger
}

// NewMarkdownTransformer builds the default transformer.
func NewMarkdownTransformer(logger *zap.Logger) *MarkdownTransformer {
	return &MarkdownTransformer{
		converter: md.NewConverter("", true, nil),
		logger:    logger,
	}
}

// ToMarkdown implements Transformer.
func (t *MarkdownTransformer) ToMarkdown(html, baseURL string) (TransformResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return TransformResult{}, fmt.Errorf("parsing html: %w", err)
	}

	markdown, err := t.converter.ConvertString(html)
	if err != nil {
		return TransformResult{}, fmt.Errorf("converting to markdown: %w", err)
	}

	return TransformResult{
		Markdown: strings.TrimSpace(markdown),
		Metadata: extractMetadata(doc),
		Outlinks: extractOutlinks(doc, baseURL),
	}, nil
}

func extractMetadata(doc *goquery.Document) PageMetadata {
	meta := PageMetadata{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	if meta.Title == "" {
		if og, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok {
			meta.Title = strings.TrimSpace(og)
		}
	}

	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		meta.Description = strings.TrimSpace(desc)
	} else if og, ok := doc.Find(`meta[property="og:description"]`).Attr("content"); ok {
		meta.Description = strings.TrimSpace(og)
	}
	return meta
}

// extractOutlinks collects href targets in document order, resolved to
// absolute URLs, skipping non-navigational schemes and intra-page anchors.
// Duplicates within one page are dropped.
func extractOutlinks(doc *goquery.Document, baseURL string) []string {
	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}

	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		if base != nil {
			ref = base.ResolveReference(ref)
		}
		switch ref.Scheme {
		case "http", "https":
		default:
			return
		}

		target := ref.String()
		if _, dup := seen[target]; dup {
			return
		}
		seen[target] = struct{}{}
		links = append(links, target)
	})
	return links
}
