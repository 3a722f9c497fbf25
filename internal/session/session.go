package session

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/fieldaxis/fieldsync/internal/database"
	"github.com/fieldaxis/fieldsync/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm/clause"
)

// ErrNoUnlockCredential means no offline unlock hash has been cached yet
var ErrNoUnlockCredential = errors.New("no cached unlock credential")

// Session holds the bearer credential obtained from the auth collaborator.
// A single 401 from any API call invalidates it globally; all components read
// the token through here so they all observe the invalidation at once.
type Session struct {
	db *database.DB

	mu           sync.RWMutex
	token        string
	invalid      bool
	onInvalidate []func()
}

// New creates a session bound to the durable store for offline-unlock state
func New(db *database.DB) *Session {
	return &Session{db: db}
}

// SetToken installs a fresh bearer token and clears any prior invalidation
func (s *Session) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.invalid = false
}

// Token returns the current bearer token, or empty when the session is
// invalid or the token has expired
func (s *Session) Token() string {
	s.mu.RLock()
	token := s.token
	invalid := s.invalid
	s.mu.RUnlock()

	if invalid || token == "" {
		return ""
	}
	if expired(token) {
		return ""
	}
	return token
}

// Valid reports whether the session currently carries a usable credential
func (s *Session) Valid() bool {
	return s.Token() != ""
}

// Invalidate drops the credential. Called on any 401 response.
func (s *Session) Invalidate() {
	s.mu.Lock()
	if s.invalid {
		s.mu.Unlock()
		return
	}
	s.invalid = true
	hooks := make([]func(), len(s.onInvalidate))
	copy(hooks, s.onInvalidate)
	s.mu.Unlock()

	log.Println("🔒 Session invalidated, re-authentication required")
	for _, hook := range hooks {
		hook()
	}
}

// OnInvalidate registers a hook fired once when the session dies
func (s *Session) OnInvalidate(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInvalidate = append(s.onInvalidate, hook)
}

// expired inspects the token's exp claim without verifying the signature;
// verification happens server-side, the client only needs to know whether
// sending the token is still worthwhile.
func expired(token string) bool {
	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return false // opaque tokens pass through untouched
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().After(exp.Time)
}

// CacheUnlockCredential stores a bcrypt hash of the technician's PIN so the
// app can re-open without connectivity
func (s *Session) CacheUnlockCredential(pin string) error {
	if s.db == nil {
		return errors.New("durable store unavailable, cannot cache unlock credential")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), 10)
	if err != nil {
		return err
	}

	setting := models.Setting{
		Key:       models.SettingUnlockHash,
		Value:     string(hash),
		UpdatedAt: time.Now().UTC(),
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&setting).Error
}

// VerifyOfflineUnlock checks a PIN against the cached hash
func (s *Session) VerifyOfflineUnlock(pin string) (bool, error) {
	if s.db == nil {
		return false, ErrNoUnlockCredential
	}
	var setting models.Setting
	if err := s.db.First(&setting, "key = ?", models.SettingUnlockHash).Error; err != nil {
		return false, ErrNoUnlockCredential
	}
	err := bcrypt.CompareHashAndPassword([]byte(setting.Value), []byte(pin))
	return err == nil, nil
}
