package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// SetupSchema initializes the template source table in the provided
// database. It is idempotent and safe to call on an already-initialized
// database.
func SetupSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS template_sources (
    template_name TEXT PRIMARY KEY,
    template_text TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("could not create template schema: %w", err)
	}
	return nil
}

// SQLStore is a SQLite-backed template source. It holds the database
// connection and prepared statements for all queries, and implements
// template.Loader. All methods are concurrent-safe to the extent the
// underlying *sql.DB is.
type SQLStore struct {
	db         *sql.DB
	stmtGet    *sql.Stmt
	stmtUpsert *sql.Stmt
	stmtDelete *sql.Stmt
	stmtList   *sql.Stmt
	logger     *slog.Logger
}

// NewSQLStore creates a SQLStore over a database previously initialized
// with SetupSchema. It pre-compiles all necessary SQL statements,
// returning an error if any preparation fails.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	stmtGet, err := db.Prepare(`SELECT template_text FROM template_sources WHERE template_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtUpsert, err := db.Prepare(`
INSERT INTO template_sources (template_name, template_text, updated_at) VALUES (?, ?, datetime('now'))
ON CONFLICT(template_name) DO UPDATE SET template_text = excluded.template_text, updated_at = excluded.updated_at;`)
	if err != nil {
		return nil, err
	}

	stmtDelete, err := db.Prepare(`DELETE FROM template_sources WHERE template_name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtList, err := db.Prepare(`SELECT template_name FROM template_sources ORDER BY template_name;`)
	if err != nil {
		return nil, err
	}

	return &SQLStore{
		db:         db,
		stmtGet:    stmtGet,
		stmtUpsert: stmtUpsert,
		stmtDelete: stmtDelete,
		stmtList:   stmtList,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, nil
}

// Close releases all prepared SQL statements held by the store. It does
// not close the database connection, which the caller owns.
func (s *SQLStore) Close() {
	_ = s.stmtGet.Close()
	_ = s.stmtUpsert.Close()
	_ = s.stmtDelete.Close()
	_ = s.stmtList.Close()
}

// SetLogger sets the logger for the store. By default, all logs are
// discarded.
func (s *SQLStore) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Load returns the named template text, or ErrNotFound.
func (s *SQLStore) Load(ctx context.Context, name string) (string, error) {
	var text string
	err := s.stmtGet.QueryRowContext(ctx, name).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// Save inserts or replaces the named template text.
func (s *SQLStore) Save(ctx context.Context, name, text string) error {
	if name == "" {
		return fmt.Errorf("empty template name")
	}
	if _, err := s.stmtUpsert.ExecContext(ctx, name, text); err != nil {
		return fmt.Errorf("failed to save template %q: %w", name, err)
	}
	s.logger.InfoContext(ctx, "Template saved",
		slog.String("template_name", name),
		slog.Int("size", len(text)),
	)
	return nil
}

// Delete removes the named template. Deleting a template that does not
// exist returns ErrNotFound.
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	res, err := s.stmtDelete.ExecContext(ctx, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	s.logger.InfoContext(ctx, "Template removed", slog.String("template_name", name))
	return nil
}

// List returns the names of all stored templates, sorted.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var names []string
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// ExportedSet is the serializable representation of a template set, used
// for JSON-based import and export.
type ExportedSet struct {
	Templates []ExportedTemplate `json:"templates"`
}

// ExportedTemplate is one stored template within an ExportedSet.
type ExportedTemplate struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// Export serializes every stored template into JSON and writes it to the
// provided io.Writer. This is useful for backups or for moving a
// template set between stores.
func (s *SQLStore) Export(ctx context.Context, w io.Writer) error {
	rows, err := s.db.QueryContext(ctx, `SELECT template_name, template_text FROM template_sources ORDER BY template_name;`)
	if err != nil {
		return fmt.Errorf("could not query templates for export: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var exported ExportedSet
	for rows.Next() {
		var t ExportedTemplate
		if err = rows.Scan(&t.Name, &t.Text); err != nil {
			return err
		}
		exported.Templates = append(exported.Templates, t)
	}
	if err = rows.Err(); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Templates exported",
		slog.Int("templates_exported", len(exported.Templates)),
	)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(exported)
}

// Import reads a JSON template set from an io.Reader and merges it into
// the database; existing templates with the same names are replaced. The
// entire operation is transactional.
func (s *SQLStore) Import(ctx context.Context, r io.Reader) error {
	var imported ExportedSet
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return fmt.Errorf("failed to decode json template set: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	stmtUpsert := tx.StmtContext(ctx, s.stmtUpsert)
	for _, t := range imported.Templates {
		if t.Name == "" {
			return fmt.Errorf("import consistency error: template with empty name")
		}
		if _, err = stmtUpsert.ExecContext(ctx, t.Name, t.Text); err != nil {
			return fmt.Errorf("failed to import template %q: %w", t.Name, err)
		}
	}

	s.logger.InfoContext(ctx, "Templates imported",
		slog.Int("templates_imported", len(imported.Templates)),
	)

	return tx.Commit()
}
