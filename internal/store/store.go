package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store persists per-guild preferences as JSON files under a data directory.
// Access to each guild's file is serialized by a per-key mutex so concurrent
// events never interleave a read-modify-write.
type Store struct {
	dir           string
	defaultModel  string
	defaultPrompt string
	logger        *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(log *slog.Logger, dir, defaultModel, defaultPrompt string) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{
		dir:           dir,
		defaultModel:  defaultModel,
		defaultPrompt: defaultPrompt,
		logger:        log.With(slog.String("service", "store")),
		locks:         make(map[string]*sync.Mutex),
	}, nil
}

func (s *Store) lockFor(key Key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	stem := key.fileStem()
	lock, ok := s.locks[stem]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[stem] = lock
	}
	return lock
}

func (s *Store) filePath(key Key) string {
	return filepath.Join(s.dir, key.fileStem()+".json")
}

func (s *Store) defaults(key Key) Preferences {
	prefs := Preferences{
		Model:        s.defaultModel,
		SystemPrompt: s.defaultPrompt,
	}
	if key.IsDM() {
		prefs.User = &UserRecord{}
	} else {
		prefs.Users = make(map[string]UserRecord)
	}
	return prefs
}

// Load returns the preferences for key, creating and persisting the default
// record on first access. A corrupt file degrades to defaults without
// overwriting it.
func (s *Store) Load(key Key) (Preferences, error) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()
	return s.loadLocked(key)
}

func (s *Store) loadLocked(key Key) (Preferences, error) {
	path := s.filePath(key)

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Preferences{}, fmt.Errorf("read %s: %w", path, err)
		}
		prefs := s.defaults(key)
		if err := s.saveLocked(key, prefs); err != nil {
			return Preferences{}, err
		}
		return prefs, nil
	}

	var prefs Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		s.logger.Error("corrupt preferences file", slog.String("path", path), slog.Any("error", err))
		return s.defaults(key), nil
	}
	if !key.IsDM() && prefs.Users == nil {
		prefs.Users = make(map[string]UserRecord)
	}
	return prefs, nil
}

// Save persists the preferences for key.
func (s *Store) Save(key Key, prefs Preferences) error {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()
	return s.saveLocked(key, prefs)
}

func (s *Store) saveLocked(key Key, prefs Preferences) error {
	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	path := s.filePath(key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Update applies fn to the stored preferences under the key's lock and
// persists the result.
func (s *Store) Update(key Key, fn func(*Preferences)) (Preferences, error) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	prefs, err := s.loadLocked(key)
	if err != nil {
		return Preferences{}, err
	}
	fn(&prefs)
	if err := s.saveLocked(key, prefs); err != nil {
		return Preferences{}, err
	}
	return prefs, nil
}

// TouchUser records that the user was seen, creating the record on first
// contact and refreshing display name and last_updated afterwards.
func (s *Store) TouchUser(key Key, userID, displayName string) (Preferences, error) {
	lock := s.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	prefs, err := s.loadLocked(key)
	if err != nil {
		return Preferences{}, err
	}

	now := time.Now().Format(time.RFC3339)

	if key.IsDM() {
		if prefs.User == nil || prefs.User.FirstSeen == "" {
			prefs.User = &UserRecord{
				DisplayName: displayName,
				FirstSeen:   now,
				LastUpdated: now,
			}
		} else {
			prefs.User.DisplayName = displayName
			prefs.User.LastUpdated = now
		}
	} else {
		rec, ok := prefs.Users[userID]
		if !ok {
			rec = UserRecord{
				DisplayName: displayName,
				FirstSeen:   now,
				LastUpdated: now,
			}
		} else {
			rec.DisplayName = displayName
			rec.LastUpdated = now
		}
		prefs.Users[userID] = rec
	}

	if err := s.saveLocked(key, prefs); err != nil {
		return Preferences{}, err
	}
	return prefs, nil
}
