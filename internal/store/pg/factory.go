package pg

import (
	"fmt"

	"github.com/nextlevelbuilder/agentd/internal/store"
)

// NewStores opens Postgres and wires all stores onto one pool.
func NewStores(dsn string) (*store.Stores, error) {
	db, err := OpenDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres stores: %w", err)
	}

	s := &store.Stores{
		Sessions: NewSessionStore(db),
		Todos:    NewTodoStore(db),
	}
	return s.WithCloser(db.Close), nil
}
