package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ehrlich-b/tangram-go/internal/id"
	"github.com/ehrlich-b/tangram-go/internal/tgerror"
)

// GetAssignment returns the build a target was most recently assigned to,
// if any — this table memoizes target evaluation across processes.
func (s *Store) GetAssignment(ctx context.Context, target id.Id) (id.Id, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT build_id FROM assignments WHERE target_id = ?", target.Bytes()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return id.Id{}, false, nil
	}
	if err != nil {
		return id.Id{}, false, tgerror.Wrap(err, "store: get_assignment %s", target)
	}
	buildId, err := id.Parse(raw)
	if err != nil {
		return id.Id{}, false, tgerror.WrapKind(tgerror.KindInvalid, err, "store: get_assignment %s: parse build id", target)
	}
	return buildId, true, nil
}

// PutAssignment records that target is assigned to build, overwriting any
// prior assignment.
func (s *Store) PutAssignment(ctx context.Context, target, build id.Id) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO assignments (target_id, build_id) VALUES (?, ?)
		 ON CONFLICT(target_id) DO UPDATE SET build_id = excluded.build_id`,
		target.Bytes(), build.Bytes())
	if err != nil {
		return tgerror.Wrap(err, "store: put_assignment %s -> %s", target, build)
	}
	return nil
}
