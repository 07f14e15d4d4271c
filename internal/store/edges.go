package store

import (
	"context"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// RecordOperationEdge notes that child was evaluated on behalf of parent, so
// a build's child graph can be reconstructed without replaying evaluation.
// Idempotent: recording the same edge twice is a no-op.
func (s *Store) RecordOperationEdge(ctx context.Context, parent, child id.Id) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO operation_edges (parent_op, child_op) VALUES (?, ?)",
		parent.Bytes(), child.Bytes())
	if err != nil {
		return tgerror.Wrap(err, "store: record_operation_edge %s -> %s", parent, child)
	}
	return nil
}

// OperationChildren returns the operations recorded as children of parent,
// in the order they were first evaluated.
func (s *Store) OperationChildren(ctx context.Context, parent id.Id) ([]id.Id, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT child_op FROM operation_edges WHERE parent_op = ? ORDER BY rowid", parent.Bytes())
	if err != nil {
		return nil, tgerror.Wrap(err, "store: operation_children %s", parent)
	}
	defer rows.Close()
	var out []id.Id
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, tgerror.Wrap(err, "store: operation_children %s: scan", parent)
		}
		cid, err := id.Parse(raw)
		if err != nil {
			return nil, tgerror.WrapKind(tgerror.KindInvalid, err, "store: operation_children %s: parse", parent)
		}
		out = append(out, cid)
	}
	return out, rows.Err()
}
