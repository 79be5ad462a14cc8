package endpoint

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/xelth-com/dairysync/internal/models"
	"github.com/xelth-com/dairysync/internal/utils"
	"gorm.io/gorm"
)

// verified credentials are remembered this long so long-polling nodes do
// not pay a bcrypt comparison on every request
const credentialCacheTTL = 5 * time.Minute

// UserStore checks basic-auth credentials against the sync_users table
type UserStore struct {
	db *gorm.DB

	mu    sync.Mutex
	cache map[[32]byte]time.Time
}

// NewUserStore creates the store; the table must exist (database.Migrate)
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db, cache: make(map[[32]byte]time.Time)}
}

// EnsureUser creates the account or resets its password
func (u *UserStore) EnsureUser(username, password string) error {
	if username == "" || password == "" {
		return errors.New("username and password are required")
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	user := models.SyncUser{Username: username}
	err = u.db.Where("username = ?", username).
		Assign(map[string]interface{}{"password_hash": hash, "is_active": true}).
		FirstOrCreate(&user).Error
	if err != nil {
		return fmt.Errorf("save sync user: %w", err)
	}

	u.mu.Lock()
	u.cache = make(map[[32]byte]time.Time)
	u.mu.Unlock()
	log.Printf("👤 Sync user %s ready", username)
	return nil
}

// Authenticate implements middleware.CredentialChecker
func (u *UserStore) Authenticate(username, password string) bool {
	key := sha256.Sum256([]byte(username + "\x00" + password))

	u.mu.Lock()
	if exp, ok := u.cache[key]; ok && time.Now().Before(exp) {
		u.mu.Unlock()
		return true
	}
	u.mu.Unlock()

	var user models.SyncUser
	if err := u.db.Where("username = ? AND is_active = ?", username, true).First(&user).Error; err != nil {
		return false
	}
	if !utils.CheckPasswordHash(password, user.PasswordHash) {
		return false
	}

	u.mu.Lock()
	u.cache[key] = time.Now().Add(credentialCacheTTL)
	u.mu.Unlock()
	return true
}
