package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Миграции лежат в sql/migrations парами NNNN_name.up.sql / NNNN_name.down.sql.
// Применение идёт под advisory lock: параллельный старт нескольких
// экземпляров сервиса не гонится за схемой.

//go:embed sql/migrations/*.sql
var migrationScripts embed.FS

const (
	migrationsDir       = "sql/migrations"
	migrationLockKey    = int64(824700113)
	migrationLockWait   = 5 * time.Second
	ensureVersionsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

type migrationScript struct {
	version int64
	name    string
	up      string
	down    string
}

// MigrateUp применяет отсутствующие up-миграции. steps == 0 — все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.withMigrationLock(ctx, func(conn *sql.Conn, scripts []migrationScript) error {
		return runUp(ctx, conn, scripts, steps)
	})
}

// MigrateDown откатывает последние применённые миграции. steps <= 0
// трактуется как один шаг: откат всей схемы одним вызовом слишком легко
// сделать случайно.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.withMigrationLock(ctx, func(conn *sql.Conn, scripts []migrationScript) error {
		return runDown(ctx, conn, scripts, steps)
	})
}

// MigrationStatus возвращает последнюю применённую версию и число
// применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (int64, int, error) {
	if s == nil || s.db == nil {
		return 0, 0, errStoreNotInitialized
	}

	queryCtx, cancel := context.WithTimeout(ctx, migrationLockWait)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, ensureVersionsTable); err != nil {
		return 0, 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	var (
		latest int64
		total  int
	)
	err := s.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&latest, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("read schema_migrations: %w", err)
	}
	return latest, total, nil
}

// withMigrationLock берёт advisory lock на выделенном соединении и отдаёт
// его вместе с загруженными скриптами в fn.
func (s *Store) withMigrationLock(ctx context.Context, fn func(*sql.Conn, []migrationScript) error) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	scripts, err := readMigrationScripts(migrationScripts)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, migrationLockWait)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	// Разблокировка на фоновом контексте: исходный ctx к этому моменту
	// может быть уже отменён.
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, ensureVersionsTable); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	return fn(conn, scripts)
}

func runUp(ctx context.Context, conn *sql.Conn, scripts []migrationScript, steps int) error {
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	done := 0
	for _, script := range scripts {
		if applied[script.version] {
			continue
		}
		err := inMigrationTx(ctx, conn, script, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, script.up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				script.version, script.name,
			)
			return err
		})
		if err != nil {
			return err
		}
		done++
		if steps > 0 && done >= steps {
			break
		}
	}
	return nil
}

func runDown(ctx context.Context, conn *sql.Conn, scripts []migrationScript, steps int) error {
	byVersion := make(map[int64]migrationScript, len(scripts))
	for _, script := range scripts {
		byVersion[script.version] = script
	}

	latest, err := latestAppliedVersions(ctx, conn, steps)
	if err != nil {
		return err
	}

	for _, version := range latest {
		script, ok := byVersion[version]
		if !ok {
			return fmt.Errorf("applied migration %d has no local script to roll back", version)
		}
		err := inMigrationTx(ctx, conn, script, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, script.down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`DELETE FROM schema_migrations WHERE version = $1`, script.version,
			)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// inMigrationTx выполняет тело и запись версии в одной транзакции.
func inMigrationTx(ctx context.Context, conn *sql.Conn, script migrationScript, body func(*sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for migration %d_%s: %w", script.version, script.name, err)
	}
	if err := body(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply migration %d_%s: %w", script.version, script.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d_%s: %w", script.version, script.name, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func latestAppliedVersions(ctx context.Context, conn *sql.Conn, limit int) ([]int64, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list latest migrations: %w", err)
	}
	defer rows.Close()

	versions := make([]int64, 0, limit)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan latest version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// readMigrationScripts собирает пары up/down из файловой системы.
// Каждая версия обязана иметь оба файла: миграция без отката не принимается.
func readMigrationScripts(fsys fs.FS) ([]migrationScript, error) {
	entries, err := fs.Glob(fsys, migrationsDir+"/*.sql")
	if err != nil {
		return nil, fmt.Errorf("glob migrations: %w", err)
	}
	if len(entries) == 0 {
		return nil, errors.New("no migration scripts embedded")
	}

	byVersion := make(map[int64]*migrationScript)
	for _, entry := range entries {
		version, name, direction, err := parseScriptName(path.Base(entry))
		if err != nil {
			return nil, err
		}

		raw, err := fs.ReadFile(fsys, entry)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration script %s is empty", path.Base(entry))
		}

		script, ok := byVersion[version]
		if !ok {
			script = &migrationScript{version: version, name: name}
			byVersion[version] = script
		} else if script.name != name {
			return nil, fmt.Errorf("version %d used by both %q and %q", version, script.name, name)
		}

		switch direction {
		case "up":
			if script.up != "" {
				return nil, fmt.Errorf("duplicate up script for version %d", version)
			}
			script.up = body
		case "down":
			if script.down != "" {
				return nil, fmt.Errorf("duplicate down script for version %d", version)
			}
			script.down = body
		}
	}

	scripts := make([]migrationScript, 0, len(byVersion))
	for _, script := range byVersion {
		if script.up == "" || script.down == "" {
			return nil, fmt.Errorf("migration %d_%s needs both up and down scripts", script.version, script.name)
		}
		scripts = append(scripts, *script)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })
	return scripts, nil
}

// parseScriptName разбирает имя вида NNNN_name.up.sql.
func parseScriptName(base string) (version int64, name, direction string, err error) {
	stem, ok := strings.CutSuffix(base, ".sql")
	if !ok {
		return 0, "", "", fmt.Errorf("unexpected migration file %s", base)
	}

	switch {
	case strings.HasSuffix(stem, ".up"):
		direction = "up"
		stem = strings.TrimSuffix(stem, ".up")
	case strings.HasSuffix(stem, ".down"):
		direction = "down"
		stem = strings.TrimSuffix(stem, ".down")
	default:
		return 0, "", "", fmt.Errorf("migration file %s has no .up/.down marker", base)
	}

	prefix, rest, ok := strings.Cut(stem, "_")
	if !ok || rest == "" {
		return 0, "", "", fmt.Errorf("migration file %s has no version prefix", base)
	}
	version, err = strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("migration file %s: bad version %q", base, prefix)
	}
	return version, rest, direction, nil
}
