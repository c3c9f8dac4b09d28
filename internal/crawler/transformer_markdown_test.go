package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const samplePage = `<!DOCTYPE html>
<html>
<head>
<title>Docs Home</title>
<meta name="description" content="All the docs.">
</head>
<body>
<h1>Welcome</h1>
<p>Read the <a href="/guide">guide</a> or the <a href="https://example.com/api">API reference</a>.</p>
<a href="/guide">guide again</a>
<a href="#section">anchor</a>
<a href="mailto:team@example.com">mail us</a>
<a href="../relative">relative</a>
</body>
</html>`

func TestToMarkdown(t *testing.T) {
	tr := NewMarkdownTransformer(zap.NewNop())

	res, err := tr.ToMarkdown(samplePage, "https://example.com/docs/")
	require.NoError(t, err)

	require.Equal(t, "Docs Home", res.Metadata.Title)
	require.Equal(t, "All the docs.", res.Metadata.Description)
	require.Contains(t, res.Markdown, "# Welcome")
	require.Contains(t, res.Markdown, "guide")
}

func TestToMarkdownOutlinks(t *testing.T) {
	tr := NewMarkdownTransformer(zap.NewNop())

	res, err := tr.ToMarkdown(samplePage, "https://example.com/docs/")
	require.NoError(t, err)

	// Relative links resolve against the page URL; anchors, mailto, and
	// within-page duplicates are dropped.
	require.Equal(t, []string{
		"https://example.com/guide",
		"https://example.com/api",
		"https://example.com/relative",
	}, res.Outlinks)
}

func TestToMarkdownOGFallbacks(t *testing.T) {
	tr := NewMarkdownTransformer(zap.NewNop())

	html := `<html><head>
<meta property="og:title" content="Social Title">
<meta property="og:description" content="Social description.">
</head><body><p>x</p></body></html>`

	res, err := tr.ToMarkdown(html, "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, "Social Title", res.Metadata.Title)
	require.Equal(t, "Social description.", res.Metadata.Description)
}

func TestToMarkdownEmptyDocument(t *testing.T) {
	tr := NewMarkdownTransformer(zap.NewNop())

	res, err := tr.ToMarkdown("", "https://example.com/")
	require.NoError(t, err)
	require.Empty(t, res.Markdown)
	require.Empty(t, res.Outlinks)
}
