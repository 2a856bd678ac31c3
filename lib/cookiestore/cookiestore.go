// Package cookiestore persists authenticated forum cookies between runs
// so successful browser logins do not have to be repeated every day.
package cookiestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTTL is how long a cached cookie set stays usable. Forum session
// cookies rot well before their nominal expiry once the server rotates
// them, so the window is kept short.
const DefaultTTL = 7 * 24 * time.Hour

// Entry is one cached cookie set for one account.
type Entry struct {
	Cookies  map[string]string `json:"cookies"`
	SavedAt  int64             `json:"saved_at"`
	Username string            `json:"username,omitempty"`
}

// Age returns how long ago the entry was saved.
func (e Entry) Age() time.Duration {
	return time.Since(time.Unix(e.SavedAt, 0))
}

// Store keeps one JSON file per account under a cache directory.
type Store struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// Options configures a Store. The zero value of each field selects a
// sensible default.
type Options struct {
	TTL time.Duration
	// Now is overridable for tests.
	Now func() time.Time
}

func New(dir string, opts Options) (*Store, error) {
	if opts.TTL == 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	err := os.MkdirAll(dir, 0o700)
	if err != nil {
		return nil, fmt.Errorf("create cookie cache dir: %w", err)
	}
	return &Store{dir: dir, ttl: opts.TTL, now: opts.Now}, nil
}

// sanitizeKey maps an account name onto a safe filename.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".json")
}

// Put saves cookies for the given account key, stamping them with the
// current time.
func (s *Store) Put(key, username string, cookies map[string]string) error {
	entry := Entry{
		Cookies:  cookies,
		SavedAt:  s.now().Unix(),
		Username: username,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(key), data, 0o600)
}

// Get returns the cached cookies for key. Expired entries are reported
// as absent but left on disk; ListValid is the one place expiry deletes.
// Corrupt files are deleted on sight. The second return value is false
// when no usable entry exists.
func (s *Store) Get(key string) (Entry, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var entry Entry
	if json.Unmarshal(data, &entry) != nil || entry.SavedAt == 0 || len(entry.Cookies) == 0 {
		// a corrupt cache file is worthless, drop it
		_ = os.Remove(s.path(key))
		return Entry{}, false, nil
	}

	if s.expired(entry) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *Store) expired(entry Entry) bool {
	return s.now().Sub(time.Unix(entry.SavedAt, 0)) > s.ttl
}

// Delete removes the cached cookies for key, if any.
func (s *Store) Delete(key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ValidEntry pairs an account key with its live cache entry.
type ValidEntry struct {
	Key   string
	Entry Entry
}

// ListValid sweeps the cache directory, deleting every expired or corrupt
// entry, and returns the entries that remain. Calling it twice yields the
// same surviving set.
func (s *Store) ListValid() ([]ValidEntry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var out []ValidEntry
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		key := strings.TrimSuffix(f.Name(), ".json")

		entry, ok, err := s.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Get already removed corrupt files; anything else left
			// behind here is expired
			_ = os.Remove(filepath.Join(s.dir, f.Name()))
			continue
		}
		out = append(out, ValidEntry{Key: key, Entry: entry})
	}
	return out, nil
}
