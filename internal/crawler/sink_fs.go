package crawler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/supacrawl/supacrawl/internal/urlutil"
)

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// FileSystemSink writes one Markdown artifact per scraped page under a
// root directory. File names derive from the URL path; colliding names
// get a short URL-hash suffix so no artifact is silently overwritten
// within a job.
type FileSystemSink struct {
	root   string
	logger *zap.Logger

	mu   sync.Mutex
	used map[string]struct{}
}

// NewFileSystemSink creates root if needed.
func NewFileSystemSink(root string, logger *zap.Logger) (*FileSystemSink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &FileSystemSink{
		root:   root,
		logger: logger,
		used:   make(map[string]struct{}),
	}, nil
}

// SavePage writes the page artifact and returns its path relative to the
// sink root.
func (s *FileSystemSink) SavePage(data PageData) (string, error) {
	name := s.fileName(data.URL)

	var b strings.Builder
	b.WriteString("---\n")
	b.WriteString(fmt.Sprintf("url: %q\n", data.URL))
	if data.Metadata.Title != "" {
		b.WriteString(fmt.Sprintf("title: %q\n", data.Metadata.Title))
	}
	if data.Metadata.Description != "" {
		b.WriteString(fmt.Sprintf("description: %q\n", data.Metadata.Description))
	}
	b.WriteString("---\n\n")
	b.WriteString(data.Markdown)
	if !strings.HasSuffix(data.Markdown, "\n") {
		b.WriteString("\n")
	}

	full := filepath.Join(s.root, name)
	if err := os.WriteFile(full, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("writing page artifact: %w", err)
	}
	s.logger.Debug("saved page artifact", zap.String("url", data.URL), zap.String("path", name))
	return name, nil
}

// fileName maps a URL to a unique Markdown file name. The base name comes
// from the URL path; the root path maps to index.md.
func (s *FileSystemSink) fileName(rawURL string) string {
	base := "index"
	if u, err := urlutil.Parse(rawURL); err == nil {
		if p := strings.Trim(u.Path, "/"); p != "" {
			base = unsafeFileChars.ReplaceAllString(strings.ReplaceAll(p, "/", "_"), "-")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := base + ".md"
	if _, taken := s.used[name]; taken || fileExists(filepath.Join(s.root, name)) {
		sum := sha256.Sum256([]byte(rawURL))
		name = fmt.Sprintf("%s_%s.md", base, hex.EncodeToString(sum[:4]))
	}
	s.used[name] = struct{}{}
	return name
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
