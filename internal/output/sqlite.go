package output

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// sqliteSink inserts rows into one table of a local SQLite database. Every
// column is TEXT holding the same rendering as the CSV output.
type sqliteSink struct {
	db      *sql.DB
	path    string
	table   string
	columns []string
	insert  string
}

func newSQLiteSink(opts Options, columns []string) (*sqliteSink, error) {
	table := opts.Table
	if table == "" {
		table = "rows"
	}
	path := filepath.Join(opts.Dir, opts.BaseName+".sqlite")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	quoted := make([]string, len(columns))
	defs := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
		defs[i] = quoted[i] + " TEXT"
		marks[i] = "?"
	}

	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, quoteIdent(table), strings.Join(defs, ", "))
	if _, err := db.Exec(create); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}

	return &sqliteSink{
		db:      db,
		path:    path,
		table:   table,
		columns: columns,
		insert: fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
			quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", ")),
	}, nil
}

// write inserts a batch in one transaction; a failed batch leaves no rows.
func (s *sqliteSink) write(ctx context.Context, rows []Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	args := make([]any, len(s.columns))
	for _, r := range rows {
		vals, err := r.Values()
		if err != nil {
			return fmt.Errorf("render row: %w", err)
		}
		if len(vals) != len(s.columns) {
			return fmt.Errorf("row has %d values for %d columns", len(vals), len(s.columns))
		}
		for i, v := range vals {
			if v == "" {
				args[i] = nil
			} else {
				args[i] = v
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *sqliteSink) close(context.Context) error {
	return s.db.Close()
}

func (s *sqliteSink) paths() []string { return []string{s.path} }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
