package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const ledgerTable = "schema_migrations"

// ErrNothingApplied is returned by Down when the ledger is empty.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Runner applies versioned SQL migrations from a filesystem, usually the
// embedded migrations directory. Files are ordered by name; each pair is
// NNNN_name.up.sql and NNNN_name.down.sql, with seeds under seeds/.
type Runner struct {
	db  *sql.DB
	src fs.FS
}

// NewRunner constructs a Runner over the given source filesystem.
func NewRunner(db *sql.DB, src fs.FS) *Runner {
	return &Runner{db: db, src: src}
}

// Up applies every pending .up.sql in name order.
func (r *Runner) Up(ctx context.Context) error {
	if err := r.ensureLedger(ctx); err != nil {
		return err
	}
	applied, err := r.applied(ctx)
	if err != nil {
		return err
	}
	ups, err := r.glob("*.up.sql")
	if err != nil {
		return err
	}
	for _, name := range ups {
		if applied[name] {
			continue
		}
		if err := r.runFile(ctx, name); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if err := r.record(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the most recently applied migration using its
// .down.sql counterpart.
func (r *Runner) Down(ctx context.Context) error {
	if err := r.ensureLedger(ctx); err != nil {
		return err
	}
	history, err := r.Status(ctx)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return ErrNothingApplied
	}
	last := history[len(history)-1]
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if _, err := fs.Stat(r.src, down); err != nil {
		return fmt.Errorf("migrate: %s has no down file", last)
	}
	if err := r.runFile(ctx, down); err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	_, err = r.db.ExecContext(ctx,
		`delete from `+ledgerTable+` where name = $1`, last)
	return err
}

// Status returns applied migration names in application order.
func (r *Runner) Status(ctx context.Context) ([]string, error) {
	if err := r.ensureLedger(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`select name from `+ledgerTable+` where name like '%.up.sql' order by applied_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Seed applies every seeds/*.sql exactly once, sharing the ledger with
// migrations so reruns are no-ops.
func (r *Runner) Seed(ctx context.Context) error {
	if err := r.ensureLedger(ctx); err != nil {
		return err
	}
	applied, err := r.applied(ctx)
	if err != nil {
		return err
	}
	seeds, err := r.glob("seeds/*.sql")
	if err != nil {
		return err
	}
	for _, name := range seeds {
		if applied[name] {
			continue
		}
		if err := r.runFile(ctx, name); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
		if err := r.record(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) ensureLedger(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		create table if not exists `+ledgerTable+` (
			name text primary key,
			applied_at timestamptz not null default now()
		)`)
	return err
}

func (r *Runner) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `select name from `+ledgerTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := make(map[string]bool)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		seen[n] = true
	}
	return seen, rows.Err()
}

func (r *Runner) record(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx,
		`insert into `+ledgerTable+`(name, applied_at) values ($1, $2)`,
		name, time.Now().UTC())
	return err
}

func (r *Runner) glob(pattern string) ([]string, error) {
	names, err := fs.Glob(r.src, pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// runFile executes one SQL file inside a transaction, statement by
// statement. Splitting is semicolon-based and string-literal aware,
// which covers the DDL these files contain.
func (r *Runner) runFile(ctx context.Context, name string) error {
	raw, err := fs.ReadFile(r.src, name)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func splitStatements(script string) []string {
	var out []string
	var cur strings.Builder
	inString := false
	for _, r := range script {
		switch {
		case r == '\'':
			inString = !inString
			cur.WriteRune(r)
		case r == ';' && !inString:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if strings.TrimSpace(cur.String()) != "" {
		out = append(out, cur.String())
	}
	return out
}
