package agent

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"net/http"
	"path"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fieldaxis/fieldsync/internal/models"
)

// Route classes stored alongside cached responses
const (
	ClassNavigation = "navigation"
	ClassAsset      = "asset"
	ClassAPI        = "api"
)

// ResponseCache stores HTTP responses keyed by (generation, request path).
// Each agent version writes under its own generation; activating a version
// deletes every other generation so stale shells cannot be served.
type ResponseCache struct {
	db         *gorm.DB
	generation string
}

// NewResponseCache creates a cache writing under the given generation
func NewResponseCache(db *gorm.DB, generation string) *ResponseCache {
	return &ResponseCache{db: db, generation: generation}
}

// Generation returns the generation this cache writes under
func (c *ResponseCache) Generation() string {
	return c.generation
}

// Put stores or replaces a response for the given request key
func (c *ResponseCache) Put(key, class string, statusCode int, header http.Header, body []byte) error {
	headerJSON, err := json.Marshal(flattenHeader(header))
	if err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}

	row := models.CachedResponse{
		Generation:  c.generation,
		RequestKey:  key,
		Class:       class,
		StatusCode:  statusCode,
		ContentType: header.Get("Content-Type"),
		Headers:     headerJSON,
		Body:        body,
		StoredAt:    time.Now().UTC(),
	}

	return c.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "generation"}, {Name: "request_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"class", "status_code", "content_type", "headers", "body", "stored_at",
		}),
	}).Create(&row).Error
}

// Get returns the cached response for the key, or gorm.ErrRecordNotFound
func (c *ResponseCache) Get(key string) (*models.CachedResponse, error) {
	var row models.CachedResponse
	err := c.db.Where("generation = ? AND request_key = ?", c.generation, key).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Install pre-populates the cache with the application shell from the given
// filesystem. Missing shell files are logged and skipped, not fatal: the
// agent can still proxy while online.
func (c *ResponseCache) Install(shell fs.FS, paths []string) error {
	installed := 0
	for _, p := range paths {
		name := path.Clean(p)
		if name == "/" || name == "." {
			name = "/index.html"
		}

		body, err := fs.ReadFile(shell, name[1:])
		if err != nil {
			log.Printf("⚠️ Shell file %s not found, skipping: %v", p, err)
			continue
		}

		header := http.Header{}
		if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
			header.Set("Content-Type", ct)
		}

		class := ClassAsset
		if path.Ext(name) == ".html" {
			class = ClassNavigation
		}

		if err := c.Put(p, class, http.StatusOK, header, body); err != nil {
			return fmt.Errorf("failed to install %s: %w", p, err)
		}
		installed++
	}

	log.Printf("📦 Installed %d shell files under generation %s", installed, c.generation)
	return nil
}

// Activate deletes every generation other than this cache's own. Called once
// the new agent version takes over, so old rows never serve again.
func (c *ResponseCache) Activate() error {
	res := c.db.Where("generation <> ?", c.generation).
		Delete(&models.CachedResponse{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("🧹 Activated generation %s, dropped %d stale entries", c.generation, res.RowsAffected)
	}
	return nil
}

// HasGeneration reports whether any rows exist for this generation, so a
// restarted agent can skip re-installing the shell.
func (c *ResponseCache) HasGeneration() (bool, error) {
	var count int64
	err := c.db.Model(&models.CachedResponse{}).
		Where("generation = ?", c.generation).
		Count(&count).Error
	return count > 0, err
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
