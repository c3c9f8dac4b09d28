// Package cache implements the on-disk content cache shared by crawl jobs.
//
// Entries are content-addressed by a hash of the normalized URL and live
// under <dir>/pages as one JSON document per entry. The store is safe for
// concurrent use within a process; cross-process races are tolerated by
// re-checking expiry right before any deletion.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/supacrawl/supacrawl/internal/urlutil"
)

// EnvCacheDir overrides the default cache location when set.
const EnvCacheDir = "SUPACRAWL_CACHE_DIR"

// Entry is one cached payload as persisted on disk.
type Entry struct {
	URL       string          `json:"url"`
	StoredAt  time.Time       `json:"stored_at"`
	ExpiresAt time.Time       `json:"expires_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Expired reports whether the entry is stale at the given instant.
func (e Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stats summarizes the store contents at the time of the call.
type Stats struct {
	Entries   int    `json:"entries"`
	Valid     int    `json:"valid"`
	Expired   int    `json:"expired"`
	SizeBytes int64  `json:"size_bytes"`
	SizeHuman string `json:"size_human"`
	Dir       string `json:"cache_dir"`
}

// Store is a disk-backed cache keyed by normalized URL.
type Store struct {
	dir      string
	pagesDir string
	logger   *zap.Logger

	mu  sync.Mutex
	now func() time.Time
}

// Open resolves the cache directory and creates it if needed. Resolution
// order: explicit dir, the SUPACRAWL_CACHE_DIR environment variable, then
// the XDG cache home.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		dir = os.Getenv(EnvCacheDir)
	}
	if dir == "" {
		dir = filepath.Join(xdg.CacheHome, "supacrawl")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pagesDir := filepath.Join(dir, "pages")
	if err := os.MkdirAll(pagesDir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", pagesDir, err)
	}

	s := &Store{
		dir:      dir,
		pagesDir: pagesDir,
		logger:   logger,
		now:      time.Now,
	}
	return s, nil
}

// Dir returns the resolved cache root.
func (s *Store) Dir() string { return s.dir }

// Key derives the cache filename stem for a URL. Unparseable URLs hash
// as-is so lookups stay total.
func Key(rawURL string) string {
	normalized, err := urlutil.Normalize(rawURL)
	if err != nil {
		normalized = rawURL
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// Get returns the entry for url if present and fresh. Expired entries are
// reported as absent but left on disk; Prune removes them.
func (s *Store) Get(url string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.readEntry(s.entryPath(url))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cache read failed; treating as miss", zap.String("url", url), zap.Error(err))
		}
		return Entry{}, false
	}
	if entry.Expired(s.now()) {
		return Entry{}, false
	}
	return entry, true
}

// Payload returns just the stored payload bytes for url. It satisfies the
// crawl engine's cache interface.
func (s *Store) Payload(url string) ([]byte, bool) {
	entry, ok := s.Get(url)
	if !ok {
		return nil, false
	}
	return entry.Payload, true
}

// Put upserts the payload for url with the given TTL. A non-positive TTL
// disables caching for the call.
func (s *Store) Put(url string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry := Entry{
		URL:       url,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
		Payload:   json.RawMessage(payload),
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := os.WriteFile(s.entryPath(url), data, 0o600); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Clear removes the entry for url, or every entry when url is empty, and
// returns the number of entries removed.
func (s *Store) Clear(url string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if url != "" {
		err := os.Remove(s.entryPath(url))
		if os.IsNotExist(err) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("remove cache entry: %w", err)
		}
		return 1, nil
	}

	files, err := s.listEntries()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, f := range files {
		if err := os.Remove(f); err != nil {
			s.logger.Warn("failed to remove cache file", zap.String("path", f), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// Prune removes expired entries and returns the count removed. Expiry is
// re-checked against the file contents immediately before each delete so a
// concurrent refresh is never discarded.
func (s *Store) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.listEntries()
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, f := range files {
		entry, err := s.readEntry(f)
		if err != nil {
			s.logger.Warn("unreadable cache file during prune", zap.String("path", f), zap.Error(err))
			continue
		}
		if !entry.Expired(s.now()) {
			continue
		}
		if err := os.Remove(f); err != nil {
			if !os.IsNotExist(err) {
				s.logger.Warn("failed to prune cache file", zap.String("path", f), zap.Error(err))
			}
			continue
		}
		pruned++
	}
	return pruned, nil
}

// Stats scans the store and reports entry counts and total size.
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.listEntries()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{Dir: s.dir}
	now := s.now()
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		stats.Entries++
		stats.SizeBytes += info.Size()

		entry, err := s.readEntry(f)
		if err != nil || entry.Expired(now) {
			stats.Expired++
		}
	}
	stats.Valid = stats.Entries - stats.Expired
	stats.SizeHuman = humanize.Bytes(uint64(stats.SizeBytes))
	return stats, nil
}

func (s *Store) entryPath(url string) string {
	return filepath.Join(s.pagesDir, Key(url)+".json")
}

func (s *Store) listEntries() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.pagesDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	return files, nil
}

func (s *Store) readEntry(path string) (Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry %s: %w", path, err)
	}
	return entry, nil
}
