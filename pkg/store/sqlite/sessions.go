package sqlite

import (
	"context"
	"database/sql"
	"time"

	cerrors "github.com/jllopis/conclave/pkg/errors"
	"github.com/jllopis/conclave/pkg/session"
)

// SessionStore implements session.Store over SQLite.
type SessionStore struct {
	db *sql.DB
}

func (s *SessionStore) Injected(ctx context.Context, sessionID string) (session.IDSet, error) {
	if sessionID == "" {
		return session.IDSet{}, cerrors.InvalidInput("session id is required")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT skill_id FROM session_injected_skills WHERE session_id = ?`, sessionID)
	if err != nil {
		return session.IDSet{}, storeErr("read injected skills", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return session.IDSet{}, storeErr("scan injected skill", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return session.IDSet{}, storeErr("read injected skills", err)
	}
	return session.NewIDSet(ids...), nil
}

func (s *SessionStore) MarkInjected(ctx context.Context, sessionID string, ids session.IDSet) error {
	if sessionID == "" {
		return cerrors.InvalidInput("session id is required")
	}
	if ids.Len() == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin mark injected", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for _, id := range ids.Slice() {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO session_injected_skills (session_id, skill_id, injected_at) VALUES (?, ?, ?)`,
			sessionID, id, now); err != nil {
			return storeErr("mark injected", err).WithContext("skill", id)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("commit mark injected", err)
	}
	return nil
}

func (s *SessionStore) Discard(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM session_injected_skills WHERE session_id = ?`, sessionID); err != nil {
		return storeErr("discard session", err)
	}
	return nil
}

var _ session.Store = (*SessionStore)(nil)
