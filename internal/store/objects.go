package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
	"github.com/ehrlich-b/tangram-go/internal/value"
)

// GetExists is a pure membership test — it must not deserialize bytes.
func (s *Store) GetExists(ctx context.Context, i id.Id) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM objects WHERE id = ?", i.Bytes()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, tgerror.Wrap(err, "store: get_exists %s", i)
	}
	return true, nil
}

// TryGet returns the raw bytes for i, or (nil, false) if absent.
func (s *Store) TryGet(ctx context.Context, i id.Id) ([]byte, bool, error) {
	var b []byte
	err := s.db.QueryRowContext(ctx, "SELECT bytes FROM objects WHERE id = ?", i.Bytes()).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, tgerror.Wrap(err, "store: try_get %s", i)
	}
	return b, true, nil
}

// GetValue implements value.Resolver by loading and deserializing an
// object's bytes.
func (s *Store) GetValue(ctx context.Context, i id.Id) (value.Value, error) {
	raw, ok, err := s.TryGet(ctx, i)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tgerror.New(tgerror.KindNotFound, "store: object %s not found", i)
	}
	v, err := value.Deserialize(raw)
	if err != nil {
		return nil, tgerror.WrapKind(tgerror.KindInvalid, err, "store: corrupt object %s", i)
	}
	return v, nil
}

// Put idempotently stores bytes under i. It rejects bytes whose hash
// disagrees with i for content-addressed kinds.
func (s *Store) Put(ctx context.Context, i id.Id, bytes []byte) error {
	if i.Kind().ContentAddressed() {
		v, err := value.Deserialize(bytes)
		if err != nil {
			return tgerror.WrapKind(tgerror.KindInvalid, err, "store: put %s: undecodable bytes", i)
		}
		if got := value.Id(v); got != i {
			return tgerror.New(tgerror.KindInvalid, "store: put %s: bytes hash to %s", i, got)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return tgerror.Wrap(err, "store: put %s: begin tx", i)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO objects (id, bytes) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET bytes = excluded.bytes`,
		i.Bytes(), bytes); err != nil {
		return tgerror.Wrap(err, "store: put %s: insert object", i)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM children WHERE parent = ?", i.Bytes()); err != nil {
		return tgerror.Wrap(err, "store: put %s: clear children", i)
	}
	children, err := childIds(bytes)
	if err != nil {
		return tgerror.WrapKind(tgerror.KindInvalid, err, "store: put %s: enumerate children", i)
	}
	for _, c := range children {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO children (parent, child) VALUES (?, ?)",
			i.Bytes(), c.Bytes()); err != nil {
			return tgerror.Wrap(err, "store: put %s: record child %s", i, c)
		}
	}
	if err := tx.Commit(); err != nil {
		return tgerror.Wrap(err, "store: put %s: commit", i)
	}
	return nil
}

// TryPutResult is the outcome of a conditional put: either the object was
// accepted, or a subset of its referenced children is missing and must be
// uploaded first — this is the back-pressure protocol a remote graph
// upload drives off of.
type TryPutResult struct {
	Accepted        bool
	MissingChildren []id.Id
}

// TryPut parses bytes to enumerate referenced child ids and returns the
// subset missing from the store instead of accepting the put. Missing
// children is not an error — it is the normal path for distributed upload.
func (s *Store) TryPut(ctx context.Context, i id.Id, bytes []byte) (TryPutResult, error) {
	children, err := childIds(bytes)
	if err != nil {
		return TryPutResult{}, tgerror.WrapKind(tgerror.KindInvalid, err, "store: try_put %s: enumerate children", i)
	}
	var missing []id.Id
	for _, c := range children {
		ok, err := s.GetExists(ctx, c)
		if err != nil {
			return TryPutResult{}, err
		}
		if !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return TryPutResult{MissingChildren: missing}, nil
	}
	if err := s.Put(ctx, i, bytes); err != nil {
		return TryPutResult{}, err
	}
	return TryPutResult{Accepted: true}, nil
}

// Children returns the ids directly referenced by i's stored bytes, from
// the children index — no re-parse required.
func (s *Store) Children(ctx context.Context, i id.Id) ([]id.Id, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT child FROM children WHERE parent = ?", i.Bytes())
	if err != nil {
		return nil, tgerror.Wrap(err, "store: children %s", i)
	}
	defer rows.Close()
	var out []id.Id
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, tgerror.Wrap(err, "store: children %s: scan", i)
		}
		cid, err := id.Parse(raw)
		if err != nil {
			return nil, tgerror.WrapKind(tgerror.KindInvalid, err, "store: children %s: parse", i)
		}
		out = append(out, cid)
	}
	return out, rows.Err()
}

// childIds parses an object's canonical bytes and returns its directly
// referenced ids, by deserializing into a value.Value and walking it.
func childIds(bytes []byte) ([]id.Id, error) {
	v, err := value.Deserialize(bytes)
	if err != nil {
		return nil, err
	}
	return value.ChildIds(v), nil
}
