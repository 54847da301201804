// Package backup creates, lists and restores copies of the sqlite database.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix = "database_"
	fileExt    = ".db"
	stampFmt   = "20060102_150405"
)

var (
	ErrNoDatabase = errors.New("database file not found")
	ErrNoBackups  = errors.New("no backups found")
)

// Snapshotter writes a consistent copy of a live database to dst.
// The store implements it with VACUUM INTO.
type Snapshotter interface {
	SnapshotTo(ctx context.Context, dst string) error
}

type Service struct {
	DBPath string
	Dir    string
	// Keep is the number of newest backups left after Create; 0 keeps all.
	Keep int
	// Snapshot is optional. Without it the database file is copied as is.
	Snapshot Snapshotter

	now func() time.Time
}

func NewService(dbPath, dir string, keep int, snap Snapshotter) *Service {
	return &Service{DBPath: dbPath, Dir: dir, Keep: keep, Snapshot: snap, now: time.Now}
}

// FileName returns the backup name for the given moment.
func FileName(t time.Time) string {
	return filePrefix + t.Format(stampFmt) + fileExt
}

// Create writes a new timestamped backup and returns its path.
func (s *Service) Create(ctx context.Context) (string, error) {
	if _, err := os.Stat(s.DBPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNoDatabase, s.DBPath)
		}
		return "", fmt.Errorf("stat database: %w", err)
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	dst := s.uniquePath(s.clock())
	if s.Snapshot != nil {
		if err := s.Snapshot.SnapshotTo(ctx, dst); err != nil {
			_ = os.Remove(dst)
			return "", fmt.Errorf("snapshot database: %w", err)
		}
	} else if err := copyFile(s.DBPath, dst); err != nil {
		return "", err
	}

	if s.Keep > 0 {
		if _, err := s.Cleanup(); err != nil {
			return dst, err
		}
	}
	return dst, nil
}

// List returns backup paths, newest first.
func (s *Service) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	type item struct {
		path string
		mod  time.Time
	}
	var items []item
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, item{path: filepath.Join(s.Dir, name), mod: info.ModTime()})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].mod.Equal(items[j].mod) {
			return items[i].path > items[j].path
		}
		return items[i].mod.After(items[j].mod)
	})

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.path
	}
	return out, nil
}

func (s *Service) Latest() (string, error) {
	list, err := s.List()
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", ErrNoBackups
	}
	return list[0], nil
}

// Restore replaces the database file with the latest backup. The caller must
// close every connection to the database first.
func (s *Service) Restore() (string, error) {
	latest, err := s.Latest()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(s.DBPath), 0755); err != nil {
		return "", fmt.Errorf("create database dir: %w", err)
	}
	tmp := s.DBPath + ".restore"
	if err := copyFile(latest, tmp); err != nil {
		return "", err
	}
	// stale WAL files would be replayed on top of the restored copy
	_ = os.Remove(s.DBPath + "-wal")
	_ = os.Remove(s.DBPath + "-shm")
	if err := os.Rename(tmp, s.DBPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("replace database: %w", err)
	}
	return latest, nil
}

// Cleanup removes all but the newest Keep backups.
func (s *Service) Cleanup() (int, error) {
	if s.Keep <= 0 {
		return 0, nil
	}
	list, err := s.List()
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := s.Keep; i < len(list); i++ {
		if err := os.Remove(list[i]); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove old backup: %w", err)
		}
		removed++
	}
	return removed, nil
}

func (s *Service) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// two backups inside one second get a numeric suffix
func (s *Service) uniquePath(t time.Time) string {
	base := filepath.Join(s.Dir, FileName(t))
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return base
	}
	stem := strings.TrimSuffix(base, fileExt)
	for i := 1; ; i++ {
		p := fmt.Sprintf("%s_%d%s", stem, i, fileExt)
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("sync %s: %w", dst, err)
	}
	return out.Close()
}
