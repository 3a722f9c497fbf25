package store

import (
	"errors"
	"fmt"
	"log"
	"reflect"
	"sync"

	"github.com/fieldaxis/fieldsync/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrStorageUnavailable is returned once when the durable store cannot be
// written; after that the facade degrades to in-memory best-effort for the
// rest of the session.
var ErrStorageUnavailable = errors.New("local store unavailable")

// ErrNotFound is returned by Get when no record matches the key
var ErrNotFound = errors.New("record not found")

// tabler is implemented by every model the facade manages
type tabler interface {
	TableName() string
}

// Store is the durable-store facade for the entity cache tables. All writes
// are full replace-by-id upserts; there is no merge logic, last write wins.
//
// A write-through in-memory mirror is maintained alongside the database so
// that a storage failure mid-session (quota, corrupted data dir) degrades to
// best-effort reads instead of a dead client.
type Store struct {
	db *database.DB

	mu       sync.RWMutex
	degraded bool
	reported bool
	mem      map[string]map[string]interface{} // table -> key -> record
}

// New creates a store facade over an open database handle
func New(db *database.DB) *Store {
	return &Store{
		db:  db,
		mem: make(map[string]map[string]interface{}),
	}
}

// NewDegraded creates a memory-only store for sessions where the durable
// store never opened at all
func NewDegraded() *Store {
	return &Store{
		degraded: true,
		reported: true,
		mem:      make(map[string]map[string]interface{}),
	}
}

// Degraded reports whether the store has fallen back to memory
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// UpsertMany replaces records by primary key. records must be a slice of a
// model type. Always succeeds against the mirror even when the durable write
// fails; the first durable failure is reported as ErrStorageUnavailable.
func (s *Store) UpsertMany(records interface{}) error {
	rv := reflect.ValueOf(records)
	if rv.Kind() != reflect.Slice {
		return fmt.Errorf("upsert expects a slice, got %T", records)
	}
	if rv.Len() == 0 {
		return nil
	}

	for i := 0; i < rv.Len(); i++ {
		rec := rv.Index(i).Interface()
		s.mirror(rec)
	}

	if s.Degraded() {
		return nil
	}

	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(records).Error
	if err != nil {
		return s.degrade(err)
	}
	return nil
}

// Upsert replaces a single record by primary key
func (s *Store) Upsert(record interface{}) error {
	s.mirror(record)

	if s.Degraded() {
		return nil
	}

	err := s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(record).Error
	if err != nil {
		return s.degrade(err)
	}
	return nil
}

// GetAll loads every record of a table into dest, which must be a pointer to
// a slice of a model type
func (s *Store) GetAll(dest interface{}) error {
	if !s.Degraded() {
		if err := s.db.Find(dest).Error; err != nil {
			if derr := s.degrade(err); derr != nil {
				// fall through to the mirror below
				log.Printf("⚠️ Store read falling back to memory: %v", err)
			}
		} else {
			return nil
		}
	}

	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("get all expects a pointer to slice, got %T", dest)
	}

	elem := rv.Elem()
	table, err := tableOf(reflect.New(elem.Type().Elem()).Interface())
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	elem.Set(reflect.MakeSlice(elem.Type(), 0, len(s.mem[table])))
	for _, rec := range s.mem[table] {
		elem.Set(reflect.Append(elem, reflect.ValueOf(rec)))
	}
	return nil
}

// Get loads the record with the given primary key into dest
func (s *Store) Get(dest interface{}, key interface{}) error {
	if !s.Degraded() {
		err := s.db.First(dest, "id = ?", key).Error
		if err == nil {
			return nil
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if derr := s.degrade(err); derr != nil {
			log.Printf("⚠️ Store read falling back to memory: %v", err)
		}
	}

	table, err := tableOf(dest)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.mem[table][fmt.Sprint(key)]
	if !ok {
		return ErrNotFound
	}
	reflect.ValueOf(dest).Elem().Set(reflect.ValueOf(rec))
	return nil
}

// Delete removes the record with the given primary key. model carries the
// table type, e.g. Delete(&models.Job{}, 12).
func (s *Store) Delete(model interface{}, key interface{}) error {
	table, err := tableOf(model)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.mem[table], fmt.Sprint(key))
	s.mu.Unlock()

	if s.Degraded() {
		return nil
	}

	if err := s.db.Delete(model, "id = ?", key).Error; err != nil {
		return s.degrade(err)
	}
	return nil
}

// mirror records a write in the in-memory fallback
func (s *Store) mirror(record interface{}) {
	table, err := tableOf(record)
	if err != nil {
		return
	}
	key, err := primaryKeyOf(record)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mem[table] == nil {
		s.mem[table] = make(map[string]interface{})
	}
	s.mem[table][key] = deref(record)
}

// degrade flips the store to memory mode and reports the failure exactly once
func (s *Store) degrade(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.degraded = true
	if !s.reported {
		s.reported = true
		log.Printf("❌ Local store unavailable, degrading to in-memory for this session: %v", cause)
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, cause)
	}
	return nil
}

// tableOf resolves the table name of a model value or pointer
func tableOf(record interface{}) (string, error) {
	if t, ok := record.(tabler); ok {
		return t.TableName(), nil
	}
	return "", fmt.Errorf("%T does not declare a table name", record)
}

// primaryKeyOf extracts the primary key of a model. Every cached-entity model
// declares its key as the first struct field.
func primaryKeyOf(record interface{}) (string, error) {
	rv := reflect.ValueOf(record)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct || rv.NumField() == 0 {
		return "", fmt.Errorf("cannot extract key from %T", record)
	}
	return fmt.Sprint(rv.Field(0).Interface()), nil
}

// deref returns the struct value behind a possible pointer
func deref(record interface{}) interface{} {
	rv := reflect.ValueOf(record)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	return rv.Interface()
}
