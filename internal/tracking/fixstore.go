package tracking

import (
	"sync"
	"time"

	"github.com/fieldaxis/fieldsync/internal/database"
	"github.com/fieldaxis/fieldsync/internal/models"
	"gorm.io/gorm/clause"
)

// FixStore is the pipeline's slice of the durable store: the location queue
// plus the persisted consent flag
type FixStore interface {
	Insert(fix *models.LocationFix) error
	Unsynced() ([]models.LocationFix, error)
	MarkSynced(ids []int64) error
	Prune(ids []int64) error
	SaveConsent(value string) error
	LoadConsent() (string, error)
}

// NewMemoryFixStore creates an in-process fix store for sessions where the
// durable store never opened. Fixes survive only as long as the process.
func NewMemoryFixStore() FixStore {
	return &memoryFixStore{}
}

// gormFixStore backs FixStore with the shared durable store
type gormFixStore struct {
	db *database.DB
}

// NewFixStore creates the database-backed fix store
func NewFixStore(db *database.DB) FixStore {
	return &gormFixStore{db: db}
}

func (s *gormFixStore) Insert(fix *models.LocationFix) error {
	return s.db.Create(fix).Error
}

func (s *gormFixStore) Unsynced() ([]models.LocationFix, error) {
	var fixes []models.LocationFix
	err := s.db.Where("synced = ?", false).Order("recorded_at ASC").Find(&fixes).Error
	return fixes, err
}

func (s *gormFixStore) MarkSynced(ids []int64) error {
	return s.db.Model(&models.LocationFix{}).Where("id IN ?", ids).Update("synced", true).Error
}

func (s *gormFixStore) Prune(ids []int64) error {
	return s.db.Delete(&models.LocationFix{}, ids).Error
}

func (s *gormFixStore) SaveConsent(value string) error {
	setting := models.Setting{
		Key:       models.SettingTrackingConsent,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&setting).Error
}

func (s *gormFixStore) LoadConsent() (string, error) {
	var setting models.Setting
	if err := s.db.First(&setting, "key = ?", models.SettingTrackingConsent).Error; err != nil {
		return "", err
	}
	return setting.Value, nil
}

// memoryFixStore is the degraded-session fallback
type memoryFixStore struct {
	mu      sync.Mutex
	nextID  int64
	fixes   []models.LocationFix
	consent string
}

func (s *memoryFixStore) Insert(fix *models.LocationFix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	fix.ID = s.nextID
	s.fixes = append(s.fixes, *fix)
	return nil
}

func (s *memoryFixStore) Unsynced() ([]models.LocationFix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.LocationFix
	for _, f := range s.fixes {
		if !f.Synced {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *memoryFixStore) MarkSynced(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := make(map[int64]bool, len(ids))
	for _, id := range ids {
		marked[id] = true
	}
	for i := range s.fixes {
		if marked[s.fixes[i].ID] {
			s.fixes[i].Synced = true
		}
	}
	return nil
}

func (s *memoryFixStore) Prune(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pruned := make(map[int64]bool, len(ids))
	for _, id := range ids {
		pruned[id] = true
	}
	kept := s.fixes[:0]
	for _, f := range s.fixes {
		if !pruned[f.ID] {
			kept = append(kept, f)
		}
	}
	s.fixes = kept
	return nil
}

func (s *memoryFixStore) SaveConsent(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consent = value
	return nil
}

func (s *memoryFixStore) LoadConsent() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consent, nil
}
