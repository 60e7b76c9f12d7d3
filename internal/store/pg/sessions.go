package pg

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/memory"
)

// SessionStore implements store.SessionStore on Postgres. Sessions are
// stored as JSONB documents keyed by id; the memory manager is the cache,
// so every save is a full upsert.
type SessionStore struct {
	db *sql.DB
}

func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) SaveSession(ctx context.Context, session *memory.Session) error {
	msgsJSON, err := json.Marshal(session.Messages)
	if err != nil {
		return err
	}
	metaJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, messages, summary, metadata, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			messages = EXCLUDED.messages,
			summary = EXCLUDED.summary,
			metadata = EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at`,
		session.ID, nilStr(session.Title), msgsJSON, nilStr(session.Summary),
		metaJSON, session.CreatedAt, session.UpdatedAt,
	)
	return err
}

func (s *SessionStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (s *SessionStore) LoadSessions(ctx context.Context) ([]*memory.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, messages, summary, metadata, created_at, updated_at
		 FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*memory.Session
	for rows.Next() {
		var (
			session        memory.Session
			title, summary *string
			msgsJSON       []byte
			metaJSON       []byte
		)
		if err := rows.Scan(&session.ID, &title, &msgsJSON, &summary,
			&metaJSON, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, err
		}
		session.Title = derefStr(title)
		session.Summary = derefStr(summary)
		if err := json.Unmarshal(msgsJSON, &session.Messages); err != nil {
			continue
		}
		if len(metaJSON) > 0 {
			json.Unmarshal(metaJSON, &session.Metadata)
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

func nilStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
