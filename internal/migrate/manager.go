package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const migrationsTable = "schema_migrations"

// Manager executes SQL migration files stored on disk, in filename order.
type Manager struct {
	db  *sql.DB
	dir string
}

// NewManager constructs a Manager over the given migrations directory.
func NewManager(db *sql.DB, dir string) *Manager {
	return &Manager{db: db, dir: dir}
}

// Up applies all pending .up.sql files.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	executed, err := m.listExecuted(ctx)
	if err != nil {
		return err
	}
	files, err := collectSQL(m.dir, ".up.sql")
	if err != nil {
		return err
	}
	for _, file := range files {
		if executed[file.base] {
			continue
		}
		if err := m.apply(ctx, file, true); err != nil {
			return fmt.Errorf("apply %s: %w", file.base, err)
		}
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	var latest string
	err := m.db.QueryRowContext(ctx,
		`select name from `+migrationsTable+` order by executed_at desc, name desc limit 1`).Scan(&latest)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	files, err := collectSQL(m.dir, ".down.sql")
	if err != nil {
		return err
	}
	for _, file := range files {
		if strings.TrimSuffix(file.base, ".down.sql") == strings.TrimSuffix(latest, ".up.sql") {
			return m.apply(ctx, file, false)
		}
	}
	return fmt.Errorf("no down file for %s", latest)
}

// Status lists applied migrations.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx,
		`select name, executed_at from `+migrationsTable+` order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var (
			name string
			at   time.Time
		)
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		out = append(out, fmt.Sprintf("%s applied %s", name, at.UTC().Format(time.RFC3339)))
	}
	return out, rows.Err()
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		create table if not exists `+migrationsTable+` (
			name text primary key,
			executed_at timestamptz not null default now()
		)`)
	return err
}

func (m *Manager) listExecuted(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `select name from `+migrationsTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	executed := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		executed[name] = true
	}
	return executed, rows.Err()
}

func (m *Manager) apply(ctx context.Context, file sqlFile, record bool) error {
	content, err := os.ReadFile(file.path)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return err
	}
	if record {
		if _, err := tx.ExecContext(ctx,
			`insert into `+migrationsTable+`(name) values ($1)`, file.base); err != nil {
			return err
		}
	} else {
		upName := strings.TrimSuffix(file.base, ".down.sql") + ".up.sql"
		if _, err := tx.ExecContext(ctx,
			`delete from `+migrationsTable+` where name=$1`, upName); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type sqlFile struct {
	base string
	path string
}

func collectSQL(dir, suffix string) ([]sqlFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []sqlFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		files = append(files, sqlFile{base: entry.Name(), path: filepath.Join(dir, entry.Name())})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].base < files[j].base })
	return files, nil
}
