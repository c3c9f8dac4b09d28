package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const manifestFile = "manifest.json"

// ManifestRecord is one row of the crawl manifest.
type ManifestRecord struct {
	URL    string `json:"url"`
	Path   string `json:"path"`
	Status string `json:"status"`
}

// Manifest record statuses.
const (
	StatusScraped = "scraped"
	StatusFailed  = "failed"
)

type manifestDoc struct {
	ScrapedURLs []ManifestRecord `json:"scraped_urls"`
}

// Manifest is the persistent record of a crawl, written to manifest.json
// in the output directory after every update. Each URL appears at most
// once; a scraped record replaces an earlier failed one for the same URL.
type Manifest struct {
	mu      sync.Mutex
	path    string
	records []ManifestRecord
	index   map[string]int
}

// LoadManifest opens the manifest in dir, reading any existing file. A
// missing file yields an empty manifest.
func LoadManifest(dir string) (*Manifest, error) {
	m := &Manifest{
		path:  filepath.Join(dir, manifestFile),
		index: make(map[string]int),
	}

	raw, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	var doc manifestDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	for _, rec := range doc.ScrapedURLs {
		if _, dup := m.index[rec.URL]; dup {
			continue
		}
		m.index[rec.URL] = len(m.records)
		m.records = append(m.records, rec)
	}
	return m, nil
}

// Append records one URL and rewrites the file. A repeat URL updates the
// existing record only when the new one is a success.
func (m *Manifest) Append(rec ManifestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i, seen := m.index[rec.URL]; seen {
		if rec.Status != StatusScraped {
			return nil
		}
		m.records[i] = rec
	} else {
		m.index[rec.URL] = len(m.records)
		m.records = append(m.records, rec)
	}
	return m.write()
}

// ScrapedURLs returns the URLs recorded as successfully scraped, in
// insertion order.
func (m *Manifest) ScrapedURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	urls := make([]string, 0, len(m.records))
	for _, rec := range m.records {
		if rec.Status == StatusScraped {
			urls = append(urls, rec.URL)
		}
	}
	return urls
}

// Len reports the total number of records.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *Manifest) write() error {
	doc := manifestDoc{ScrapedURLs: m.records}
	if doc.ScrapedURLs == nil {
		doc.ScrapedURLs = []ManifestRecord{}
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(m.path, raw, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}
