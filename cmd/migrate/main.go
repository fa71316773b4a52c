// migrate управляет схемой базы jeogiyo: накатывает и откатывает
// SQL-миграции и показывает текущую версию.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IJaes/jeogiyo-server-sub000/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

type options struct {
	command string
	steps   int
	dsn     string
	timeout time.Duration
}

func main() {
	opts, err := parseOptions()
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	summary, err := run(ctx, opts)
	if err != nil {
		fail("%v", err)
	}
	fmt.Println(summary)
}

func parseOptions() (options, error) {
	var opts options

	flag.StringVar(&opts.command, "command", "up", "what to do: up|down|status")
	flag.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flag.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: JEOGIYO_DATABASE_URL)")
	flag.DurationVar(&opts.timeout, "timeout", defaultTimeout, "overall timeout")
	flag.Parse()

	opts.command = strings.ToLower(strings.TrimSpace(opts.command))
	switch opts.command {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unsupported command %q (use up|down|status)", opts.command)
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(os.Getenv("JEOGIYO_DATABASE_URL"))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("JEOGIYO_DATABASE_URL (or -dsn) is required")
	}
	if opts.timeout <= 0 {
		return options{}, fmt.Errorf("timeout must be > 0")
	}

	return opts, nil
}

// run выполняет команду и возвращает сводку по итоговому состоянию схемы.
func run(ctx context.Context, opts options) (string, error) {
	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return "", fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch opts.command {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return "", fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		steps := opts.steps
		if steps <= 0 {
			steps = 1
		}
		if err := store.MigrateDown(ctx, steps); err != nil {
			return "", fmt.Errorf("migrate down: %w", err)
		}
	case "status":
	default:
		return "", fmt.Errorf("unsupported command %q", opts.command)
	}

	version, applied, err := store.MigrationStatus(ctx)
	if err != nil {
		return "", fmt.Errorf("migration status: %w", err)
	}
	return fmt.Sprintf("%s ok: schema version=%d applied=%d", opts.command, version, applied), nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
