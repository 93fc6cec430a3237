package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/cxxada/internal/abi"
	"github.com/roach88/cxxada/internal/diag"
	"github.com/roach88/cxxada/internal/emit"
	"github.com/roach88/cxxada/internal/ir"
)

// RunInput is everything a generation run produced.
type RunInput struct {
	DataModel    string
	RootPackage  string
	ConfigDigest string
	Table        *abi.Table
	Instances    []*ir.Decl
	Units        []emit.Unit
	Diagnostics  []diag.Diagnostic
}

// WriteRun records a run in one transaction and returns its header. Run
// IDs are UUIDv7; seq is one past the latest run.
func (s *Store) WriteRun(ctx context.Context, in RunInput) (Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Run{}, fmt.Errorf("write run: %w", err)
	}
	run := Run{
		ID:           id.String(),
		DataModel:    in.DataModel,
		RootPackage:  in.RootPackage,
		ConfigDigest: in.ConfigDigest,
	}
	for _, d := range in.Diagnostics {
		if d.IsError() {
			run.Errors++
		} else {
			run.Warnings++
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("write run: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&run.Seq); err != nil {
		return Run{}, fmt.Errorf("write run: next seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, seq, data_model, root_package, config_digest, errors, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Seq, run.DataModel, run.RootPackage, run.ConfigDigest, run.Errors, run.Warnings); err != nil {
		return Run{}, fmt.Errorf("write run: %w", err)
	}

	if in.Table != nil {
		for _, declID := range in.Table.SymbolIDs() {
			sym := in.Table.Symbols[declID]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO symbols (run_id, decl_id, name, convention) VALUES (?, ?, ?, ?)
			`, run.ID, declID, sym.Name, string(sym.Convention)); err != nil {
				return Run{}, fmt.Errorf("write symbol %s: %w", declID, err)
			}
		}
		for _, path := range in.Table.LayoutPaths() {
			l := in.Table.Layouts[path]
			detail, err := marshalLayout(l)
			if err != nil {
				return Run{}, fmt.Errorf("write layout %s: %w", path, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO layouts (run_id, path, size, align, detail) VALUES (?, ?, ?, ?, ?)
			`, run.ID, path, l.Size, l.Align, detail); err != nil {
				return Run{}, fmt.Errorf("write layout %s: %w", path, err)
			}
		}
	}

	for _, d := range in.Instances {
		digest, err := ir.InstanceDigest(d)
		if err != nil {
			return Run{}, fmt.Errorf("write instance: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO instances (run_id, key, template, specialization, digest)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(run_id, key) DO NOTHING
		`, run.ID, string(d.Instance.Key), d.Instance.Template.String(), d.Instance.Specialization, digest); err != nil {
			return Run{}, fmt.Errorf("write instance %s: %w", d.Instance.Key, err)
		}
	}

	for _, u := range in.Units {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO units (run_id, package, file, digest) VALUES (?, ?, ?, ?)
		`, run.ID, u.Package, u.File, u.Digest); err != nil {
			return Run{}, fmt.Errorf("write unit %s: %w", u.Package, err)
		}
	}

	for i, d := range in.Diagnostics {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO diagnostics (run_id, seq, kind, code, severity, path, location, message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, run.ID, i+1, string(d.Kind), d.Code, string(d.Severity), d.Path, d.Loc.String(), d.Message); err != nil {
			return Run{}, fmt.Errorf("write diagnostic: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("write run: commit: %w", err)
	}
	return run, nil
}
