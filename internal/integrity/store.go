// Package integrity implements C1, the Integrity & Backup Store: model
// digesting, validation, atomic backup/restore, and the append-only
// version history. Model artifacts themselves are owned exclusively by
// the OTA engine (C2); this package only ever sees immutable snapshots.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/sentinel/internal/agenterrors"
)

// modelMagic is the 4-byte prefix every valid model artifact must carry.
const modelMagic = "MODL"

// minModelSize is the minimum valid model size in bytes: non-empty,
// at least 8 bytes.
const minModelSize = 8

// HistoryEntry is one append-only version history record.
type HistoryEntry struct {
	Version   int    `json:"version"`
	Timestamp int64  `json:"timestamp"`
	NodeID    string `json:"node_id"`
}

// Store is C1: the integrity and backup store. It owns the backup
// directory and the version-history file within it.
type Store struct {
	log       *zap.Logger
	backupDir string
	nodeID    string

	mu      sync.Mutex
	history []HistoryEntry
	maxKept int
}

// New constructs a Store rooted at backupDir, creating the directory if
// it doesn't exist and loading any persisted version history.
func New(backupDir, nodeID string, maxKept int, log *zap.Logger) (*Store, error) {
	if maxKept <= 0 {
		maxKept = 3
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, agenterrors.Resource("creating backup directory", err)
	}
	s := &Store{log: log, backupDir: backupDir, nodeID: nodeID, maxKept: maxKept}

	if entries, err := loadHistory(historyPath(backupDir)); err == nil {
		s.history = entries
	}
	return s, nil
}

func historyPath(backupDir string) string {
	return filepath.Join(backupDir, "version_history.json")
}

func loadHistory(path string) ([]HistoryEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Digest computes the SHA-256 hex digest of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Validate reports whether data is a structurally valid model artifact:
// non-empty, at least 8 bytes, and prefixed with the "MODL" magic.
// Content-only — integrity against a declared digest is a separate step.
func Validate(data []byte) bool {
	return len(data) >= minModelSize && bytes.HasPrefix(data, []byte(modelMagic))
}

// backupName formats the backup file naming convention:
// model_v<version>_<unix_seconds>.bak.
func backupName(version int, unixSeconds int64) string {
	return fmt.Sprintf("model_v%d_%d.bak", version, unixSeconds)
}

// Snapshot copies the file at path into the backup directory under the
// naming convention model_v<version>_<unix_seconds>.bak, returning the
// backup id (the file's base name).
func (s *Store) Snapshot(path string, version int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", agenterrors.Resource("reading model for snapshot", err)
	}

	now := time.Now().Unix()
	name := backupName(version, now)
	dst := filepath.Join(s.backupDir, name)

	if err := writeAtomic(dst, data); err != nil {
		return "", agenterrors.Resource("writing backup", err)
	}

	s.log.Info("model snapshot written", zap.String("backup_id", name), zap.Int("version", version))
	return name, nil
}

// Restore copies the backup identified by backupID back to path,
// atomically (write-then-replace).
func (s *Store) Restore(backupID, path string) error {
	src := filepath.Join(s.backupDir, backupID)
	data, err := os.ReadFile(src)
	if err != nil {
		return agenterrors.Integrity("reading backup for restore", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return agenterrors.Resource("restoring model", err)
	}
	s.log.Info("model restored from backup", zap.String("backup_id", backupID))
	return nil
}

// writeAtomic writes data to a temp file in the same directory as path,
// then renames it over path, so a crash mid-write never leaves a
// truncated file in place: a committed model never coexists on disk
// with a mid-applied one.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed away

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// NewestBackupForVersion finds the most recently written backup id for
// the given version, or an error if none exists.
func (s *Store) NewestBackupForVersion(version int) (string, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return "", agenterrors.Resource("listing backups", err)
	}

	prefix := fmt.Sprintf("model_v%d_", version)
	var best string
	var bestTS int64
	for _, e := range entries {
		if e.IsDir() || !bytesHasStringPrefix(e.Name(), prefix) {
			continue
		}
		var ts int64
		fmt.Sscanf(e.Name()[len(prefix):], "%d.bak", &ts)
		if ts >= bestTS {
			bestTS = ts
			best = e.Name()
		}
	}
	if best == "" {
		return "", fmt.Errorf("no backup found for version %d", version)
	}
	return best, nil
}

func bytesHasStringPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Prune removes backup files older than maxAge, keeping the history file
// untouched (history has its own truncation policy in HistoryAppend).
func (s *Store) Prune(maxAge time.Duration) error {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return agenterrors.Resource("listing backups for prune", err)
	}

	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) && info.Name() != "version_history.json" {
			_ = os.Remove(filepath.Join(s.backupDir, info.Name()))
		}
	}
	return nil
}

// HistoryAppend appends entry to the version history, truncating to the
// most recent maxKept entries, then persists it to disk.
func (s *Store) HistoryAppend(entry HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, entry)
	if len(s.history) > s.maxKept {
		s.history = s.history[len(s.history)-s.maxKept:]
	}

	data, err := json.MarshalIndent(s.history, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(historyPath(s.backupDir), data)
}

// HistoryTail returns the most recent n history entries, newest last.
func (s *Store) HistoryTail(n int) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	out := make([]HistoryEntry, n)
	copy(out, s.history[len(s.history)-n:])
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}
