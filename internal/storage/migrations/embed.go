// Package migrations applies the embedded schema files for Postgres and the
// ClickHouse swap archive.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

// PostgresFS embeds the Postgres schema.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS

// ClickhouseFS embeds the swap archive schema.
//
//go:embed clickhouse/*.sql
var ClickhouseFS embed.FS

// file is one migration: a version taken from the file name and its SQL.
type file struct {
	Version string
	SQL     string
}

// readFiles returns the non-empty .sql files in dir sorted by name.
func readFiles(fsys fs.FS, dir string) ([]file, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	files := make([]file, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			continue
		}
		files = append(files, file{Version: strings.TrimSuffix(name, ".sql"), SQL: string(data)})
	}
	return files, nil
}
