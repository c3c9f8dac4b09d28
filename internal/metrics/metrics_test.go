package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	// Observers must not panic after double init.
	ObservePageScraped("https://example.com/a")
	ObservePageFailed("https://example.com/b", "timeout")
	ObserveCacheHit()
	ObserveRobotsDenied("https://example.com/admin")
	ObserveJob("complete")
	IncActiveWorkers()
	DecActiveWorkers()
	ObserveHTTPRequest("POST", "/v1/crawl", 200, 120*time.Millisecond)
	ObservePolitenessDelay("example.com", time.Second)
}

func TestSanitizeSite(t *testing.T) {
	cases := map[string]string{
		"https://Example.COM/path":  "example.com",
		"example.com/page":          "example.com",
		"http://sub.example.com:81": "sub.example.com",
		"":                          "unknown",
		"http://":                   "unknown",
	}
	for in, want := range cases {
		require.Equal(t, want, SanitizeSite(in), in)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObservePageScraped("https://example.com/")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "supacrawl_pages_scraped_total")
}
