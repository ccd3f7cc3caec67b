package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		version := match[1]
		direction := match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}

	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

// PostgresStore maps unique violations by constraint name, so the names it
// matches on must exist in the schema.
func TestMigrationsDeclareMappedConstraints(t *testing.T) {
	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	files, err := migrationFiles(migrationsDir, ".up.sql")
	if err != nil {
		t.Fatalf("list up migrations: %v", err)
	}
	var schema strings.Builder
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		schema.Write(content)
	}

	for _, name := range []string{"lanes_team_position_key", "tasks_team_name_key", "notifications_deadline_once"} {
		if !strings.Contains(schema.String(), name) {
			t.Fatalf("constraint %s not declared in up migrations", name)
		}
	}
	if !strings.Contains(schema.String(), "ON DELETE CASCADE") {
		t.Fatal("expected cascading foreign keys in up migrations")
	}
}
