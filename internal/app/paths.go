package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/optikakg/optika_tg/internal/config"
)

// legacyDBFile is where the first deployments kept the database.
const legacyDBFile = "database.db"

// EnsureLayout creates the working directories and moves files left by older
// deployments into place. It runs before the logger exists, so problems are
// returned rather than logged.
func EnsureLayout(cfg *config.Config) error {
	dirs := []string{
		filepath.Dir(cfg.Database.Path),
		cfg.Backup.Dir,
		cfg.Logging.Dir,
		filepath.Dir(cfg.Audit.Path),
	}
	var errs []error
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			errs = append(errs, fmt.Errorf("create %s: %w", dir, err))
		}
	}

	if cfg.Database.Path != legacyDBFile {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := migrateLegacyFile(legacyDBFile+suffix, cfg.Database.Path+suffix); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// migrateLegacyFile moves oldPath to newPath unless newPath already exists.
func migrateLegacyFile(oldPath, newPath string) error {
	info, err := os.Stat(oldPath)
	if err != nil || info.IsDir() {
		return nil
	}
	if _, err := os.Stat(newPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0755); err != nil {
		return fmt.Errorf("create dir for %s: %w", newPath, err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("move %s -> %s: %w", oldPath, newPath, err)
	}
	return nil
}
