package store

import (
	"database/sql"

	"github.com/sebastianm/vplink/internal/journal"
)

func init() {
	journal.RegisterStoreFactory(func(db *sql.DB) journal.Store {
		return NewSQLiteStore(db)
	})
}
