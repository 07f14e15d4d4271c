package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// GetOutput returns the value id produced by a completed operation (task,
// target, or resource), if its result was ever recorded.
func (s *Store) GetOutput(ctx context.Context, op id.Id) (id.Id, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value_id FROM outputs WHERE op_id = ?", op.Bytes()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return id.Id{}, false, nil
	}
	if err != nil {
		return id.Id{}, false, tgerror.Wrap(err, "store: get_output %s", op)
	}
	valueId, err := id.Parse(raw)
	if err != nil {
		return id.Id{}, false, tgerror.WrapKind(tgerror.KindInvalid, err, "store: get_output %s: parse value id", op)
	}
	return valueId, true, nil
}

// PutOutput records the value an operation reduced to. Operations are
// memoized by construction (the evaluator only calls this once per op id
// under its in-flight dedup), so this does not need to check for an
// existing row: op_id -> output is expected to be append-only in practice,
// but a second write for the same op_id (e.g. after a process restart
// re-runs an in-flight evaluation) is harmless since content-addressed
// operations are deterministic.
func (s *Store) PutOutput(ctx context.Context, op, value id.Id) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outputs (op_id, value_id) VALUES (?, ?)
		 ON CONFLICT(op_id) DO UPDATE SET value_id = excluded.value_id`,
		op.Bytes(), value.Bytes())
	if err != nil {
		return tgerror.Wrap(err, "store: put_output %s -> %s", op, value)
	}
	return nil
}
