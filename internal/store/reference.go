package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ParseSymbolList reads a symbol list: either nm output ("address type
// name" or "type name" for undefined symbols) or one bare name per line.
// Blank lines and nm file headers ("file.o:") are skipped. The result is
// sorted and free of duplicates.
func ParseSymbolList(r io.Reader) ([]string, error) {
	seen := make(map[string]bool)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasSuffix(line, ":") {
			continue
		}
		fields := strings.Fields(line)
		seen[fields[len(fields)-1]] = true
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read symbol list: %w", err)
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// ImportReference stores names as the reference symbol table called
// source, replacing any previous import under that name. It returns the
// number of names stored.
func (s *Store) ImportReference(ctx context.Context, source string, names []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("import reference: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM reference_symbols WHERE source = ?`, source); err != nil {
		return 0, fmt.Errorf("import reference: %w", err)
	}
	n := 0
	for _, name := range names {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO reference_symbols (source, name) VALUES (?, ?)
			ON CONFLICT(source, name) DO NOTHING
		`, source, name)
		if err != nil {
			return 0, fmt.Errorf("import reference %s: %w", name, err)
		}
		if rows, _ := res.RowsAffected(); rows > 0 {
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("import reference: commit: %w", err)
	}
	return n, nil
}

// ReferenceSymbols returns the names imported under source, sorted.
func (s *Store) ReferenceSymbols(ctx context.Context, source string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM reference_symbols
		WHERE source = ?
		ORDER BY name COLLATE BINARY ASC
	`, source)
	if err != nil {
		return nil, fmt.Errorf("query reference symbols: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan reference symbol: %w", err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference symbols: %w", err)
	}
	return out, nil
}

// ReferenceSources returns the names of all imported reference tables.
func (s *Store) ReferenceSources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT source FROM reference_symbols ORDER BY source COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query reference sources: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("scan reference source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}
