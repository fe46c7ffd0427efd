package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/queryir"
	"github.com/roach88/dgate/internal/querysql"
)

// runTable implements versioned run persistence over database/sql. Queries
// are written with ? placeholders and rebound per driver.
type runTable struct {
	db       *sql.DB
	numbered bool
}

// rebind rewrites ? placeholders as $1..$n when the driver needs them.
func (t runTable) rebind(query string) string {
	if !t.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (t runTable) load(ctx context.Context, key core.RunKey) (*core.RunState, error) {
	var data string
	err := t.db.QueryRowContext(ctx, t.rebind(`
		SELECT state FROM runs
		WHERE tenant_id = ? AND namespace_id = ? AND run_id = ?
	`), key.TenantID, key.NamespaceID, key.RunID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return unmarshalState(data)
}

// save writes state at state.Version+1 in one transaction. The runs row
// is inserted (version 0) or updated only where the stored version still
// matches, and the new version is appended to run_versions.
func (t runTable) save(ctx context.Context, state *core.RunState) error {
	key := state.Key()
	prev := state.Version
	next := prev + 1

	state.Version = next
	data, err := marshalState(state)
	state.Version = prev
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save %s: begin tx: %w", key, err)
	}
	defer tx.Rollback() // No-op if committed

	var result sql.Result
	if prev == 0 {
		result, err = tx.ExecContext(ctx, t.rebind(`
			INSERT INTO runs
			(tenant_id, namespace_id, run_id, scenario_id, status, current_stage_id, version, state)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`),
			key.TenantID, key.NamespaceID, key.RunID,
			state.ScenarioID, string(state.Status), state.CurrentStageID,
			next, data,
		)
	} else {
		result, err = tx.ExecContext(ctx, t.rebind(`
			UPDATE runs
			SET status = ?, current_stage_id = ?, version = ?, state = ?
			WHERE tenant_id = ? AND namespace_id = ? AND run_id = ? AND version = ?
		`),
			string(state.Status), state.CurrentStageID, next, data,
			key.TenantID, key.NamespaceID, key.RunID, prev,
		)
	}
	if err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save %s: rows affected: %w", key, err)
	}
	if affected == 0 {
		if prev == 0 {
			return fmt.Errorf("save %s: %w", key, core.ErrRunExists)
		}
		return fmt.Errorf("save %s at version %d: %w", key, prev, core.ErrVersionConflict)
	}

	if _, err := tx.ExecContext(ctx, t.rebind(`
		INSERT INTO run_versions
		(tenant_id, namespace_id, run_id, version, status, decisions)
		VALUES (?, ?, ?, ?, ?, ?)
	`),
		key.TenantID, key.NamespaceID, key.RunID,
		next, string(state.Status), len(state.Decisions),
	); err != nil {
		return fmt.Errorf("save %s: record version: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save %s: commit: %w", key, err)
	}
	state.Version = next
	return nil
}

// query lists the runs matching q. q is compiled with querysql and
// rebound for the driver.
func (t runTable) query(ctx context.Context, q queryir.Select) ([]RunSummary, error) {
	stmt, params, err := querysql.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	rows, err := t.db.QueryContext(ctx, t.rebind(stmt), params...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []RunSummary{}
	for rows.Next() {
		s := RunSummary{Key: core.RunKey{TenantID: q.TenantID, NamespaceID: q.NamespaceID}}
		var status string
		if err := rows.Scan(&s.Key.RunID, &s.ScenarioID, &status, &s.CurrentStageID, &s.Version); err != nil {
			return nil, fmt.Errorf("list runs: scan: %w", err)
		}
		s.Status = core.RunStatus(status)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// versions returns the committed version numbers of a run in order.
func (t runTable) versions(ctx context.Context, key core.RunKey) ([]int64, error) {
	rows, err := t.db.QueryContext(ctx, t.rebind(`
		SELECT version FROM run_versions
		WHERE tenant_id = ? AND namespace_id = ? AND run_id = ?
		ORDER BY version ASC
	`), key.TenantID, key.NamespaceID, key.RunID)
	if err != nil {
		return nil, fmt.Errorf("versions %s: %w", key, err)
	}
	defer rows.Close()
	out := []int64{}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("versions %s: scan: %w", key, err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
