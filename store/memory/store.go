// Package memory is an in-process [authcore.UserStore]. It suits tests,
// demos and single-instance deployments that can afford to lose users on
// restart.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/google/uuid"
)

// Store keeps user records in maps guarded by one mutex. Records are
// copied in and out so callers never share slices with the store.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*authcore.UserRecord
	byEmail map[string]string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		byID:    make(map[string]*authcore.UserRecord),
		byEmail: make(map[string]string),
	}
}

// Len returns the number of stored users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (*authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) InsertUser(_ context.Context, nu authcore.NewUser) (string, error) {
	key := emailKey(nu.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[key]; taken {
		return "", authcore.ErrDuplicateEmail
	}
	u := &authcore.UserRecord{
		ID:            uuid.NewString(),
		Email:         nu.Email,
		PasswordHash:  nu.PasswordHash,
		Provider:      nu.Provider,
		Active:        nu.Active,
		EmailVerified: nu.EmailVerified,
		CreatedAt:     time.Now().UTC(),
	}
	s.byID[u.ID] = u
	s.byEmail[key] = u.ID
	return u.ID, nil
}

func (s *Store) UpdateUser(_ context.Context, id string, patch authcore.UserPatch) error {
	return s.update(id, func(u *authcore.UserRecord) {
		if patch.PasswordHash != nil {
			u.PasswordHash = *patch.PasswordHash
		}
		if patch.EmailVerified != nil {
			u.EmailVerified = *patch.EmailVerified
		}
		if patch.TwoFactor != nil {
			tf := *patch.TwoFactor
			tf.BackupCodeDigests = slices.Clone(tf.BackupCodeDigests)
			tf.LastUsedCounter = u.TwoFactor.LastUsedCounter
			u.TwoFactor = tf
		}
	})
}

// SetActive enables or disables an account. The engine never does this
// itself; it is an administrative operation.
func (s *Store) SetActive(id string, active bool) error {
	return s.update(id, func(u *authcore.UserRecord) { u.Active = active })
}

// AddRefreshDigest keeps RefreshDigests ordered oldest first, so eviction
// trims the front.
func (s *Store) AddRefreshDigest(_ context.Context, id, digest string, limit int) ([]string, error) {
	var evicted []string
	err := s.update(id, func(u *authcore.UserRecord) {
		if !slices.Contains(u.RefreshDigests, digest) {
			u.RefreshDigests = append(u.RefreshDigests, digest)
		}
		if over := len(u.RefreshDigests) - limit; limit > 0 && over > 0 {
			evicted = slices.Clone(u.RefreshDigests[:over])
			u.RefreshDigests = slices.Delete(u.RefreshDigests, 0, over)
		}
	})
	return evicted, err
}

func (s *Store) ReplaceRefreshDigest(_ context.Context, id, oldDigest, newDigest string) (bool, error) {
	var swapped bool
	err := s.update(id, func(u *authcore.UserRecord) {
		i := slices.Index(u.RefreshDigests, oldDigest)
		if i < 0 {
			return
		}
		u.RefreshDigests = append(slices.Delete(u.RefreshDigests, i, i+1), newDigest)
		swapped = true
	})
	return swapped, err
}

func (s *Store) RemoveRefreshDigest(_ context.Context, id, digest string) error {
	return s.update(id, func(u *authcore.UserRecord) {
		u.RefreshDigests = slices.DeleteFunc(u.RefreshDigests, func(d string) bool { return d == digest })
	})
}

func (s *Store) ClearRefreshDigests(_ context.Context, id string) error {
	return s.update(id, func(u *authcore.UserRecord) { u.RefreshDigests = nil })
}

func (s *Store) ConsumeBackupCode(_ context.Context, id, digest string) (bool, error) {
	var consumed bool
	err := s.update(id, func(u *authcore.UserRecord) {
		i := slices.Index(u.TwoFactor.BackupCodeDigests, digest)
		if i < 0 {
			return
		}
		u.TwoFactor.BackupCodeDigests = slices.Delete(u.TwoFactor.BackupCodeDigests, i, i+1)
		consumed = true
	})
	return consumed, err
}

func (s *Store) AdvanceTOTPCounter(_ context.Context, id string, counter int64) (bool, error) {
	var advanced bool
	err := s.update(id, func(u *authcore.UserRecord) {
		if counter > u.TwoFactor.LastUsedCounter {
			u.TwoFactor.LastUsedCounter = counter
			advanced = true
		}
	})
	return advanced, err
}

func (s *Store) update(id string, fn func(*authcore.UserRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	fn(u)
	return nil
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneUser(u *authcore.UserRecord) *authcore.UserRecord {
	c := *u
	c.RefreshDigests = slices.Clone(u.RefreshDigests)
	c.TwoFactor.BackupCodeDigests = slices.Clone(u.TwoFactor.BackupCodeDigests)
	return &c
}

var _ authcore.UserStore = (*Store)(nil)
