// Package templates mirrors the remote effect catalog locally so preview
// media is not re-fetched on every launch.
package templates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"pixverse/internal/domain"
)

const catalogFile = "templates_cache.json"

// Downloader fetches a remote file into destDir under fileName and returns
// the local path.
type Downloader interface {
	Download(ctx context.Context, url, destDir, fileName string) (string, error)
}

// Cache is a read-through catalog cache with replace-on-change semantics
// for preview media. Preview videos live next to the catalog file as
// <templateID>.mp4.
type Cache struct {
	basePath   string
	downloader Downloader
	logger     zerolog.Logger

	mu sync.Mutex
}

// NewCache initializes a Cache rooted at basePath.
func NewCache(basePath string, d Downloader, logger zerolog.Logger) (*Cache, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("templates: base path is required")
	}
	if d == nil {
		return nil, errors.New("templates: downloader is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("templates: ensure base path: %w", err)
	}
	return &Cache{basePath: basePath, downloader: d, logger: logger}, nil
}

// LoadCached returns the last persisted catalog synchronously, for instant
// display before a network refresh completes. A missing or unreadable
// catalog yields an empty result.
func (c *Cache) LoadCached() []domain.TemplateCategory {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked()
}

func (c *Cache) loadLocked() []domain.TemplateCategory {
	data, err := os.ReadFile(filepath.Join(c.basePath, catalogFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn().Err(err).Msg("templates: read cached catalog failed")
		}
		return nil
	}
	var categories []domain.TemplateCategory
	if err := json.Unmarshal(data, &categories); err != nil {
		c.logger.Warn().Err(err).Msg("templates: cached catalog corrupt, ignoring")
		return nil
	}
	return categories
}

// Refresh reconciles the local mirror with the remote catalog: new
// templates get their preview downloaded, templates whose preview URL
// changed are re-downloaded, and local entries absent remotely are pruned.
// A failed download leaves that template without a local video and moves on.
func (c *Cache) Refresh(ctx context.Context, remote []domain.TemplateCategory) []domain.TemplateCategory {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached := map[int]domain.Template{}
	for _, cat := range c.loadLocked() {
		for _, tpl := range cat.Templates {
			cached[tpl.ID] = tpl
		}
	}

	keep := map[int]bool{}
	out := make([]domain.TemplateCategory, 0, len(remote))
	for _, cat := range remote {
		refreshed := cat
		refreshed.Templates = make([]domain.Template, 0, len(cat.Templates))
		for _, tpl := range cat.Templates {
			keep[tpl.ID] = true
			refreshed.Templates = append(refreshed.Templates, c.refreshTemplateLocked(ctx, tpl, cached))
		}
		out = append(out, refreshed)
	}

	c.pruneLocked(keep)
	c.persistLocked(out)
	return out
}

func (c *Cache) refreshTemplateLocked(ctx context.Context, tpl domain.Template, cached map[int]domain.Template) domain.Template {
	if tpl.Preview == "" {
		return tpl
	}

	videoName := strconv.Itoa(tpl.ID) + ".mp4"
	if prev, ok := cached[tpl.ID]; ok && prev.Preview == tpl.Preview && prev.LocalVideoName != "" {
		if _, err := os.Stat(filepath.Join(c.basePath, prev.LocalVideoName)); err == nil {
			tpl.LocalVideoName = prev.LocalVideoName
			return tpl
		}
	}

	if _, err := c.downloader.Download(ctx, tpl.Preview, c.basePath, videoName); err != nil {
		c.logger.Warn().Err(err).Int("template_id", tpl.ID).Msg("templates: preview download failed")
		tpl.LocalVideoName = ""
		return tpl
	}
	tpl.LocalVideoName = videoName
	return tpl
}

func (c *Cache) pruneLocked(keep map[int]bool) {
	entries, err := os.ReadDir(c.basePath)
	if err != nil {
		c.logger.Warn().Err(err).Msg("templates: prune scan failed")
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".mp4" {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSuffix(name, ".mp4"))
		if err != nil || keep[id] {
			continue
		}
		if err := os.Remove(filepath.Join(c.basePath, name)); err != nil {
			c.logger.Warn().Err(err).Str("file", name).Msg("templates: prune failed")
		}
	}
}

func (c *Cache) persistLocked(categories []domain.TemplateCategory) {
	data, err := json.MarshalIndent(categories, "", "  ")
	if err != nil {
		c.logger.Warn().Err(err).Msg("templates: encode catalog failed")
		return
	}
	path := filepath.Join(c.basePath, catalogFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.logger.Warn().Err(err).Msg("templates: persist catalog failed")
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		c.logger.Warn().Err(err).Msg("templates: persist catalog failed")
	}
}

// VideoPath resolves the local preview video for a template.
func (c *Cache) VideoPath(tpl domain.Template) (string, bool) {
	if tpl.LocalVideoName == "" {
		return "", false
	}
	path := filepath.Join(c.basePath, tpl.LocalVideoName)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}
