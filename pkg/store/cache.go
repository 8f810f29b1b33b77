package store

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/CTAG07/blocktpl/pkg/template"
)

// Cache memoizes compiled templates per (template name, condition
// variable set). A given key maps to exactly one compiled template, and
// the template is parsed at most once even under concurrent Get calls:
// all callers for a not-yet-cached key wait for the single parse.
//
// Failed parses are not cached, so a transient loader failure does not
// poison the key.
type Cache struct {
	loader template.Loader
	opts   template.Options
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	once sync.Once
	tpl  *template.Template
	err  error
}

// NewCache creates a cache over the given template source. The options
// apply to every parse the cache performs.
func NewCache(loader template.Loader, opts template.Options) *Cache {
	return &Cache{
		loader:  loader,
		opts:    opts,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		entries: make(map[string]*cacheEntry),
	}
}

// SetLogger sets the logger for the cache. By default, all logs are
// discarded.
func (c *Cache) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// Get returns the compiled template for the given name and condition
// variables, parsing it on the first request for this combination.
func (c *Cache) Get(ctx context.Context, name string, condVars map[string]any) (*template.Template, error) {
	key := Key(name, condVars)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		c.logger.DebugContext(ctx, "Compiling template", slog.String("cache_key", key))
		e.tpl, e.err = template.Parse(ctx, name, c.loader, condVars, c.opts)
	})
	if e.err != nil {
		c.mu.Lock()
		// Another Get may already have replaced the failed entry.
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, e.err
	}
	return e.tpl, nil
}

// Clear empties the cache. In-flight parses complete but their results
// are not retained.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
}

// Len returns the number of cached compiled templates.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Key returns the canonical cache key for a template name and condition
// variable set. Entries whose value is false, an empty string, or nil
// are omitted, so a variable left unset and one explicitly set to false
// produce the same key. Remaining entries are sorted by name.
func Key(name string, condVars map[string]any) string {
	pairs := make([]string, 0, len(condVars))
	for k, v := range condVars {
		enc, ok := encodeCondValue(v)
		if !ok {
			continue
		}
		pairs = append(pairs, url.QueryEscape(k)+"="+url.QueryEscape(enc))
	}
	sort.Strings(pairs)
	return url.QueryEscape(name) + "?" + strings.Join(pairs, "&")
}

// encodeCondValue renders a condition-variable value for the cache key,
// reporting false for values that canonicalize to absent.
func encodeCondValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case bool:
		if !x {
			return "", false
		}
		return "true", true
	case string:
		if x == "" {
			return "", false
		}
		return x, true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 64), true
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64), true
	default:
		// Unsupported types surface as a parse failure later; for the
		// key they are treated as absent.
		return "", false
	}
}
