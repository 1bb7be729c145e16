package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"kpitrack/internal/kpi"
)

// WatchState is the last observed version of a watched file.
type WatchState struct {
	Path     string `json:"path"`
	ModTime  string `json:"mod_time"`
	Hash     string `json:"hash"`
	LastSeen string `json:"last_seen"`
}

// FileChange is a new or modified file found by watchDirectory.
type FileChange struct {
	Path string
	Hash string
}

// watchDirectory compares the dataset files under dirPath with the state
// saved under kvKey and returns the new or modified ones, sorted by path.
// Deleted files are forgotten. A missing directory has no changes.
func watchDirectory(ctx context.Context, store *Store, dirPath, kvKey string, now time.Time) ([]FileChange, error) {
	current := make(map[string]WatchState)
	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !isDatasetFile(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		hash, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("hash file %s: %w", path, err)
		}
		current[path] = WatchState{
			Path:     path,
			ModTime:  info.ModTime().UTC().Format(time.RFC3339),
			Hash:     hash,
			LastSeen: now.UTC().Format(time.RFC3339),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dirPath, err)
	}

	raw, err := store.GetKV(ctx, kvKey)
	if err != nil {
		return nil, fmt.Errorf("get watch state: %w", err)
	}
	previous := make(map[string]WatchState)
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &previous); err != nil {
			return nil, fmt.Errorf("parse watch state: %w", err)
		}
	}

	var changes []FileChange
	for path, state := range current {
		if prev, ok := previous[path]; !ok || prev.Hash != state.Hash {
			changes = append(changes, FileChange{Path: path, Hash: state.Hash})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })

	data, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("marshal watch state: %w", err)
	}
	if err := store.SetKV(ctx, kvKey, string(data)); err != nil {
		return nil, fmt.Errorf("save watch state: %w", err)
	}
	return changes, nil
}

func isDatasetFile(path string) bool {
	switch kpi.FormatForPath(path) {
	case kpi.FormatYAML:
		return true
	default:
		return filepath.Ext(path) == ".json"
	}
}

// hashFile computes the SHA-256 of a file's contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
