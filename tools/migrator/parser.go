package migrator

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Migration is one versioned schema change
type Migration struct {
	Version       int
	Name          string
	UpSQL         string
	NoTransaction bool
	Dependencies  []int
}

var (
	filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_-]+)\.sql$`)
	upMarkerRegex = regexp.MustCompile(`^--\s*\+migrate\s+Up(\s+notransaction)?\s*$`)
	dependsRegex  = regexp.MustCompile(`^--\s*\+migrate\s+Depends:\s*(.*)$`)
)

// ParseMigration parses the content of a migration named NNN_name.sql.
// The file must contain a "-- +migrate Up" marker; "-- +migrate Depends: N M"
// directives may follow it.
func ParseMigration(filename string, content []byte) (*Migration, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if matches == nil {
		return nil, fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}

	version, err := strconv.Atoi(matches[1])
	if err != nil || version == 0 {
		return nil, fmt.Errorf("invalid version number in filename: %s", matches[1])
	}

	m := &Migration{Version: version, Name: matches[2]}

	var body []string
	seenUp := false
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)

		if !seenUp {
			if sub := upMarkerRegex.FindStringSubmatch(trimmed); sub != nil {
				seenUp = true
				m.NoTransaction = strings.TrimSpace(sub[1]) == "notransaction"
			}
			continue
		}

		if sub := dependsRegex.FindStringSubmatch(trimmed); sub != nil {
			deps := strings.Fields(sub[1])
			if len(deps) == 0 {
				return nil, fmt.Errorf("empty dependency list in migration file: %s", filename)
			}
			for _, d := range deps {
				dep, err := strconv.Atoi(d)
				if err != nil {
					return nil, fmt.Errorf("invalid dependency version '%s' in migration file: %s", d, filename)
				}
				if dep >= version {
					return nil, fmt.Errorf("migration %d cannot depend on later version %d", version, dep)
				}
				m.Dependencies = append(m.Dependencies, dep)
			}
			continue
		}

		body = append(body, line)
	}

	if !seenUp {
		return nil, fmt.Errorf("missing '-- +migrate Up' marker in migration file: %s", filename)
	}

	m.UpSQL = strings.TrimSpace(strings.Join(body, "\n"))
	if m.UpSQL == "" {
		return nil, fmt.Errorf("migration file contains no SQL statements: %s", filename)
	}

	return m, nil
}

// LoadMigrations parses every NNN_name.sql file at the root of fsys and returns
// them sorted by version. Versions must run 1..N without gaps and every
// dependency must exist.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !filenameRegex.MatchString(entry.Name()) {
			continue
		}

		content, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		m, err := ParseMigration(entry.Name(), content)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, *m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	for i, m := range migrations {
		if m.Version != i+1 {
			if i > 0 && migrations[i-1].Version == m.Version {
				return nil, fmt.Errorf("duplicate migration version: %d", m.Version)
			}
			return nil, fmt.Errorf("gap in migration versions: expected %d, found %d", i+1, m.Version)
		}
	}

	// versions are contiguous, so a dependency exists iff it is in 1..len
	for _, m := range migrations {
		for _, dep := range m.Dependencies {
			if dep < 1 || dep > len(migrations) {
				return nil, fmt.Errorf("migration %d depends on non-existent version %d", m.Version, dep)
			}
		}
	}

	return migrations, nil
}
