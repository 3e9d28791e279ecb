/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/acronis/go-sdbmigrate"
)

// LoadMigrations loads migration descriptors from the directory of the filesystem (e.g. embed.FS).
// Every regular file must be a migration, subdirectories are ignored.
// Migrations are returned sorted by version regardless of the directory order.
func LoadMigrations(fsys fs.FS, dir string) ([]*Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	migrations := make([]*Migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m, parseErr := ParseName(entry.Name())
		if parseErr != nil {
			return nil, parseErr
		}
		m.fsys = fsys
		m.dir = dir
		migrations = append(migrations, m)
	}
	return sortMigrations(migrations)
}

// LoadDirMigrations loads migration descriptors from the directory on disk.
func LoadDirMigrations(dirPath string) ([]*Migration, error) {
	return LoadMigrations(os.DirFS(dirPath), ".")
}

// NextVersion returns the version for a new migration.
func NextVersion(migrations []*Migration) int64 {
	var next int64
	for _, m := range migrations {
		if m.Version() >= next {
			next = m.Version() + 1
		}
	}
	return next
}

// sortMigrations returns a sorted copy of migrations. Duplicate versions are a naming error.
func sortMigrations(migrations []*Migration) ([]*Migration, error) {
	sorted := make([]*Migration, len(migrations))
	copy(sorted, migrations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Version() < sorted[j].Version()
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version() == sorted[i-1].Version() {
			return nil, fmt.Errorf("%w: %s and %s have the same version",
				sdbmigrate.ErrInvalidMigrationName, sorted[i-1].FileName(), sorted[i].FileName())
		}
	}
	return sorted, nil
}
