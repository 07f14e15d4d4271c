package store

import (
	"context"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// GCResult reports what a sweep removed.
type GCResult struct {
	ObjectsRemoved int
}

// GC runs mark-and-sweep over the objects table's children index, keeping
// everything reachable from roots and deleting the rest. Roots are
// typically every build's recorded outputs plus any ids a caller pins
// explicitly; assignments and outputs rows are never swept themselves,
// only the blobs, artifacts, and operations they point into.
func (s *Store) GC(ctx context.Context, roots []id.Id) (GCResult, error) {
	marked := make(map[id.Id]struct{}, len(roots))
	queue := append([]id.Id(nil), roots...)
	for _, r := range roots {
		marked[r] = struct{}{}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := s.Children(ctx, cur)
		if err != nil {
			return GCResult{}, tgerror.Wrap(err, "store: gc: walk children of %s", cur)
		}
		for _, c := range children {
			if _, ok := marked[c]; ok {
				continue
			}
			marked[c] = struct{}{}
			queue = append(queue, c)
		}
	}

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM objects")
	if err != nil {
		return GCResult{}, tgerror.Wrap(err, "store: gc: list objects")
	}
	var unreachable []id.Id
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			rows.Close()
			return GCResult{}, tgerror.Wrap(err, "store: gc: scan object id")
		}
		oid, err := id.Parse(raw)
		if err != nil {
			rows.Close()
			return GCResult{}, tgerror.WrapKind(tgerror.KindInvalid, err, "store: gc: parse object id")
		}
		if _, ok := marked[oid]; !ok {
			unreachable = append(unreachable, oid)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return GCResult{}, tgerror.Wrap(err, "store: gc: iterate objects")
	}
	rows.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return GCResult{}, tgerror.Wrap(err, "store: gc: begin tx")
	}
	defer tx.Rollback()
	for _, oid := range unreachable {
		if _, err := tx.ExecContext(ctx, "DELETE FROM objects WHERE id = ?", oid.Bytes()); err != nil {
			return GCResult{}, tgerror.Wrap(err, "store: gc: delete object %s", oid)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM children WHERE parent = ?", oid.Bytes()); err != nil {
			return GCResult{}, tgerror.Wrap(err, "store: gc: delete children of %s", oid)
		}
	}
	if err := tx.Commit(); err != nil {
		return GCResult{}, tgerror.Wrap(err, "store: gc: commit")
	}
	return GCResult{ObjectsRemoved: len(unreachable)}, nil
}

// OutputRoots returns every id the outputs table pins: each memoized
// operation id plus the value id it reduced to. This is the default root
// set a sweep starts from when the caller pins nothing else.
func (s *Store) OutputRoots(ctx context.Context) ([]id.Id, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT op_id, value_id FROM outputs")
	if err != nil {
		return nil, tgerror.Wrap(err, "store: gc: list output roots")
	}
	defer rows.Close()
	var roots []id.Id
	for rows.Next() {
		var opRaw, valueRaw []byte
		if err := rows.Scan(&opRaw, &valueRaw); err != nil {
			return nil, tgerror.Wrap(err, "store: gc: scan output root")
		}
		for _, raw := range [][]byte{opRaw, valueRaw} {
			i, err := id.Parse(raw)
			if err != nil {
				return nil, tgerror.WrapKind(tgerror.KindInvalid, err, "store: gc: parse output root")
			}
			roots = append(roots, i)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, tgerror.Wrap(err, "store: gc: iterate output roots")
	}
	return roots, nil
}
