package store

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

const contentFallback = "Информация временно недоступна"

//go:embed content_defaults.yaml
var defaultContentYAML []byte

type Section struct {
	Key   string `yaml:"key"`
	Title string `yaml:"title"`
	Text  string `yaml:"text"`
}

// ParseSections reads the menu sections document.
func ParseSections(data []byte) ([]Section, error) {
	var doc struct {
		Sections []Section `yaml:"sections"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse sections: %w", err)
	}
	seen := make(map[string]bool, len(doc.Sections))
	for _, s := range doc.Sections {
		if s.Key == "" {
			return nil, fmt.Errorf("parse sections: empty key")
		}
		if seen[s.Key] {
			return nil, fmt.Errorf("parse sections: duplicate key %q", s.Key)
		}
		seen[s.Key] = true
	}
	return doc.Sections, nil
}

func DefaultSections() []Section {
	sections, err := ParseSections(defaultContentYAML)
	if err != nil {
		panic(err)
	}
	return sections
}

// Content caches the menu texts. The cache is loaded lazily and dropped on
// every edit.
type Content struct {
	store    *Store
	sections []Section

	mu    sync.RWMutex
	cache map[string]string
}

func NewContent(s *Store, sections []Section) *Content {
	return &Content{store: s, sections: sections}
}

func (c *Content) Sections() []Section { return c.sections }

func (c *Content) Title(key string) (string, bool) {
	for _, s := range c.sections {
		if s.Key == key {
			return s.Title, true
		}
	}
	return "", false
}

// Seed stores default texts for sections that have none yet.
func (c *Content) Seed(ctx context.Context) (int, error) {
	defaults := make(map[string]string, len(c.sections))
	for _, s := range c.sections {
		defaults[s.Key] = s.Text
	}
	n, err := c.store.SeedContent(ctx, defaults)
	c.Invalidate()
	return n, err
}

func (c *Content) Get(ctx context.Context, key string) string {
	all, err := c.load(ctx, false)
	if err != nil {
		return contentFallback
	}
	if v, ok := all[key]; ok {
		return v
	}
	return contentFallback
}

func (c *Content) Set(ctx context.Context, key, value string) error {
	if _, ok := c.Title(key); !ok {
		return fmt.Errorf("%w: section %q", ErrNotFound, key)
	}
	if err := c.store.SetContent(ctx, key, value); err != nil {
		return fmt.Errorf("save section: %w", err)
	}
	c.Invalidate()
	return nil
}

func (c *Content) Refresh(ctx context.Context) error {
	_, err := c.load(ctx, true)
	return err
}

func (c *Content) Invalidate() {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
}

func (c *Content) load(ctx context.Context, force bool) (map[string]string, error) {
	if !force {
		c.mu.RLock()
		cached := c.cache
		c.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}
	}
	all, err := c.store.AllContent(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache = all
	c.mu.Unlock()
	return all, nil
}
