package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const simpleSitemap = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url>
    <loc>https://example.com/</loc>
    <lastmod>2026-01-15</lastmod>
    <priority>0.8</priority>
  </url>
  <url>
    <loc>https://example.com/docs</loc>
  </url>
</urlset>`

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(srv.Client(), "supacrawl", 0, zap.NewNop())
}

func TestParseURLSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, simpleSitemap)
	}))
	defer srv.Close()

	entries := newClient(t, srv).Parse(context.Background(), srv.URL+"/sitemap.xml")

	require.Len(t, entries, 2)
	require.Equal(t, "https://example.com/", entries[0].URL)
	require.Equal(t, time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), entries[0].LastModified)
	require.InDelta(t, 0.8, entries[0].Priority, 0.001)
	require.Equal(t, "https://example.com/docs", entries[1].URL)
	require.True(t, entries[1].LastModified.IsZero())
}

func TestParseSitemapIndex(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap_index.xml":
			fmt.Fprintf(w, `<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/pages.xml</loc></sitemap>
</sitemapindex>`, srv.URL)
		case "/pages.xml":
			fmt.Fprint(w, simpleSitemap)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	entries := newClient(t, srv).Parse(context.Background(), srv.URL+"/sitemap_index.xml")
	require.Len(t, entries, 2)
}

func TestParseCyclicIndexTerminates(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Index that points at itself.
		fmt.Fprintf(w, `<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s/sitemap_index.xml</loc></sitemap>
</sitemapindex>`, srv.URL)
	}))
	defer srv.Close()

	entries := newClient(t, srv).Parse(context.Background(), srv.URL+"/sitemap_index.xml")
	require.Empty(t, entries)
}

func TestParseDepthCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Every level is another index with a fresh URL, so only the depth
		// cap stops the descent.
		fmt.Fprintf(w, `<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>%s%s/next</loc></sitemap>
</sitemapindex>`, srv.URL, r.URL.Path)
	}))
	defer srv.Close()

	entries := newClient(t, srv).Parse(context.Background(), srv.URL+"/root")
	require.Empty(t, entries)
}

func TestParseMalformedXMLIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "this is not xml <<<<")
	}))
	defer srv.Close()

	entries := newClient(t, srv).Parse(context.Background(), srv.URL+"/sitemap.xml")
	require.Empty(t, entries)
}

func TestParseGzippedSitemap(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(simpleSitemap))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	entries := newClient(t, srv).Parse(context.Background(), srv.URL+"/sitemap.xml.gz")
	require.Len(t, entries, 2)
}

func TestSeedsPrefersRobotsDirectives(t *testing.T) {
	probed := false
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/from-robots.xml":
			fmt.Fprint(w, simpleSitemap)
		case "/sitemap.xml":
			probed = true
			fmt.Fprint(w, simpleSitemap)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	entries := newClient(t, srv).Seeds(context.Background(), srv.URL, []string{srv.URL + "/from-robots.xml"})
	require.Len(t, entries, 2)
	require.False(t, probed, "fallback paths must not be probed when robots.txt lists sitemaps")
}

func TestSeedsFallsBackToConventionalLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sitemap.xml" {
			fmt.Fprint(w, simpleSitemap)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	entries := newClient(t, srv).Seeds(context.Background(), srv.URL, nil)
	require.Len(t, entries, 2)
}

func TestSeedsNoSitemapAnywhere(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	entries := newClient(t, srv).Seeds(context.Background(), srv.URL, nil)
	require.Empty(t, entries)
}

func TestMaxURLsBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
		for i := 0; i < 50; i++ {
			fmt.Fprintf(w, "<url><loc>https://example.com/p%d</loc></url>", i)
		}
		fmt.Fprint(w, `</urlset>`)
	}))
	defer srv.Close()

	client := NewClient(srv.Client(), "supacrawl", 10, zap.NewNop())
	entries := client.Parse(context.Background(), srv.URL+"/sitemap.xml")
	require.Len(t, entries, 10)
}
