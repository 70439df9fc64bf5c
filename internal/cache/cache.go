// Package cache keeps encrypted snapshots of collection listings between runs
// so that folder overviews do not need a fresh server scan.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/greeddj/mailbridge-go/internal/model"
)

// Snapshot is the persisted state for one account.
type Snapshot struct {
	Account     string                                // server:user the snapshot belongs to.
	Collections map[model.Kind][]model.CollectionInfo // Listing per kind.
	Updated     map[model.Kind]time.Time              // Listing time per kind.
}

// Snapshots loads, updates and stores one account's snapshot file.
type Snapshots struct {
	file string
	pass string
	snap *Snapshot
	now  func() time.Time
}

// DefaultDir returns ~/.mailbridge/cache.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".mailbridge", "cache"), nil
}

// fileName derives a stable file name from the account.
func fileName(account string) string {
	return fmt.Sprintf("%x.cache", sha256.Sum256([]byte(account)))
}

// New binds a snapshot file in dir (DefaultDir when empty) to account. The
// file is encrypted with secret.
func New(dir, account, secret string) (*Snapshots, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &Snapshots{
		file: filepath.Join(dir, fileName(account)),
		pass: secret + ":" + account,
		snap: emptySnapshot(account),
		now:  time.Now,
	}, nil
}

func emptySnapshot(account string) *Snapshot {
	return &Snapshot{
		Account:     account,
		Collections: make(map[model.Kind][]model.CollectionInfo),
		Updated:     make(map[model.Kind]time.Time),
	}
}

// Path is the snapshot file.
func (s *Snapshots) Path() string { return s.file }

// Load reads the snapshot file. A missing file leaves the snapshot empty.
func (s *Snapshots) Load() error {
	ciphertext, err := os.ReadFile(s.file)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read cache file: %w", err)
	}

	plaintext, err := decrypt(ciphertext, s.pass)
	if err != nil {
		return fmt.Errorf("decrypt cache: %w", err)
	}
	snap := emptySnapshot(s.snap.Account)
	if err := gob.NewDecoder(bytes.NewReader(plaintext)).Decode(snap); err != nil {
		return fmt.Errorf("decode cache: %w", err)
	}
	if snap.Account != s.snap.Account {
		return fmt.Errorf("cache file %s belongs to %q", s.file, snap.Account)
	}
	s.snap = snap
	return nil
}

// Save writes the snapshot through a temporary file.
func (s *Snapshots) Save() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.snap); err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	ciphertext, err := encrypt(buf.Bytes(), s.pass)
	if err != nil {
		return fmt.Errorf("encrypt cache: %w", err)
	}

	tmp := s.file + ".tmp"
	if err := os.WriteFile(tmp, ciphertext, 0o600); err != nil {
		return fmt.Errorf("write temporary cache file: %w", err)
	}
	if err := os.Rename(tmp, s.file); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// Put replaces the listing of kind.
func (s *Snapshots) Put(kind model.Kind, infos []model.CollectionInfo) {
	s.snap.Collections[kind] = append([]model.CollectionInfo(nil), infos...)
	s.snap.Updated[kind] = s.now()
}

// Get returns the listing of kind and when it was taken.
func (s *Snapshots) Get(kind model.Kind) ([]model.CollectionInfo, time.Time, bool) {
	infos, ok := s.snap.Collections[kind]
	return infos, s.snap.Updated[kind], ok
}

// Clear removes the file and empties the snapshot.
func (s *Snapshots) Clear() error {
	if err := os.Remove(s.file); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove cache file: %w", err)
	}
	s.snap = emptySnapshot(s.snap.Account)
	return nil
}

// Info summarizes the snapshot for display.
func (s *Snapshots) Info() string {
	info := fmt.Sprintf("Snapshot file: %s\n", s.file)
	for _, kind := range model.Kinds {
		updated, ok := s.snap.Updated[kind]
		if !ok {
			info += fmt.Sprintf("%s: no cached collections\n", kind)
			continue
		}
		info += fmt.Sprintf("%s: %d collections cached (updated %s)\n",
			kind, len(s.snap.Collections[kind]), updated.Format("2006-01-02 15:04:05"))
	}
	return info
}
