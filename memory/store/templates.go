package store

import (
	"embed"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

//go:embed templates
var embeddedTemplates embed.FS

// TemplateCache loads query templates by (category, name) and caches them
// until the backing file's modification time changes. Queries ship embedded
// in the binary; an override directory allows tuning query text without
// redeployment.
//
// Templates use {{placeholder}} interpolation. Every interpolated value
// that originates from caller-controlled text must pass through
// escapeLiteral first.
type TemplateCache struct {
	overrideDir string

	mu      sync.Mutex
	entries map[string]templateEntry
}

type templateEntry struct {
	content string
	modTime time.Time
}

// NewTemplateCache creates a cache. overrideDir may be empty, in which case
// only the embedded templates are served.
func NewTemplateCache(overrideDir string) *TemplateCache {
	return &TemplateCache{
		overrideDir: overrideDir,
		entries:     make(map[string]templateEntry),
	}
}

// Load returns the template content for category/name (e.g. "update",
// "insert_triple"). Override files are re-read when their mtime advances.
func (tc *TemplateCache) Load(category, name string) (string, error) {
	key := category + "/" + name

	if tc.overrideDir != "" {
		path := filepath.Join(tc.overrideDir, category, name+".sql")
		if info, err := os.Stat(path); err == nil {
			tc.mu.Lock()
			entry, ok := tc.entries[key]
			if ok && entry.modTime.Equal(info.ModTime()) {
				tc.mu.Unlock()
				return entry.content, nil
			}
			tc.mu.Unlock()

			data, err := os.ReadFile(path)
			if err != nil {
				return "", goerr.Wrap(err, "read template override", goerr.V("path", path))
			}
			tc.mu.Lock()
			tc.entries[key] = templateEntry{content: string(data), modTime: info.ModTime()}
			tc.mu.Unlock()
			return string(data), nil
		}
	}

	tc.mu.Lock()
	if entry, ok := tc.entries[key]; ok {
		tc.mu.Unlock()
		return entry.content, nil
	}
	tc.mu.Unlock()

	data, err := embeddedTemplates.ReadFile("templates/" + key + ".sql")
	if err != nil {
		return "", goerr.Wrap(err, "unknown query template",
			goerr.V("category", category), goerr.V("name", name))
	}
	tc.mu.Lock()
	tc.entries[key] = templateEntry{content: string(data)}
	tc.mu.Unlock()
	return string(data), nil
}

// Render substitutes {{key}} placeholders with their values in a single
// pass over the template, so substituted values are never rescanned: user
// text containing placeholder-looking markers passes through verbatim.
// Unknown placeholders are left intact so malformed templates fail loudly
// at the transport rather than silently producing empty clauses.
func Render(template string, vars map[string]string) string {
	var b strings.Builder
	b.Grow(len(template))
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		key := rest[start+2 : start+end]
		if v, ok := vars[key]; ok {
			b.WriteString(rest[:start])
			b.WriteString(v)
		} else {
			b.WriteString(rest[:start+end+2])
		}
		rest = rest[start+end+2:]
	}
	return strings.TrimSpace(b.String())
}
