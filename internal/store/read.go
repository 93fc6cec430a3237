package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cxxada/internal/abi"
)

// ErrNoRuns is returned by LatestRun on an empty database.
var ErrNoRuns = errors.New("no runs recorded")

// Run is the header of a recorded run.
type Run struct {
	ID           string `json:"id"`
	Seq          int64  `json:"seq"`
	DataModel    string `json:"data_model"`
	RootPackage  string `json:"root_package,omitempty"`
	ConfigDigest string `json:"config_digest,omitempty"`
	Errors       int    `json:"errors"`
	Warnings     int    `json:"warnings"`
}

// SymbolRow is one resolved symbol of a run.
type SymbolRow struct {
	DeclID     string         `json:"decl_id"`
	Name       string         `json:"name"`
	Convention abi.Convention `json:"convention"`
}

// InstanceRow is one template instance of a run.
type InstanceRow struct {
	Key            string `json:"key"`
	Template       string `json:"template"`
	Specialization int    `json:"specialization"`
	Digest         string `json:"digest"`
}

// UnitRow is one emitted unit of a run.
type UnitRow struct {
	Package string `json:"package"`
	File    string `json:"file"`
	Digest  string `json:"digest"`
}

// LatestRun returns the run with the highest seq.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	var r Run
	err := s.db.QueryRowContext(ctx, `
		SELECT id, seq, data_model, root_package, config_digest, errors, warnings
		FROM runs
		ORDER BY seq DESC
		LIMIT 1
	`).Scan(&r.ID, &r.Seq, &r.DataModel, &r.RootPackage, &r.ConfigDigest, &r.Errors, &r.Warnings)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNoRuns
	}
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}

// Symbols returns the symbols of a run ordered by declaration ID.
func (s *Store) Symbols(ctx context.Context, runID string) ([]SymbolRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT decl_id, name, convention
		FROM symbols
		WHERE run_id = ?
		ORDER BY decl_id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()

	out := []SymbolRow{}
	for rows.Next() {
		var r SymbolRow
		var conv string
		if err := rows.Scan(&r.DeclID, &r.Name, &conv); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		r.Convention = abi.Convention(conv)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate symbols: %w", err)
	}
	return out, nil
}

// Layouts returns the layouts of a run keyed by class path.
func (s *Store) Layouts(ctx context.Context, runID string) (map[string]*abi.Layout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, detail
		FROM layouts
		WHERE run_id = ?
		ORDER BY path COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query layouts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*abi.Layout)
	for rows.Next() {
		var path, detail string
		if err := rows.Scan(&path, &detail); err != nil {
			return nil, fmt.Errorf("scan layout: %w", err)
		}
		l, err := unmarshalLayout(detail)
		if err != nil {
			return nil, fmt.Errorf("layout %s: %w", path, err)
		}
		out[path] = l
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate layouts: %w", err)
	}
	return out, nil
}

// Instances returns the template instances of a run ordered by key.
func (s *Store) Instances(ctx context.Context, runID string) ([]InstanceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, template, specialization, digest
		FROM instances
		WHERE run_id = ?
		ORDER BY key COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	out := []InstanceRow{}
	for rows.Next() {
		var r InstanceRow
		if err := rows.Scan(&r.Key, &r.Template, &r.Specialization, &r.Digest); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instances: %w", err)
	}
	return out, nil
}

// Units returns the emitted units of a run ordered by package.
func (s *Store) Units(ctx context.Context, runID string) ([]UnitRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT package, file, digest
		FROM units
		WHERE run_id = ?
		ORDER BY package COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	out := []UnitRow{}
	for rows.Next() {
		var r UnitRow
		if err := rows.Scan(&r.Package, &r.File, &r.Digest); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return out, nil
}
