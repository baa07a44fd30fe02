package repositories

import "github.com/jmoiron/sqlx"

// PostgresStore bundles the sqlx repositories into a Store.
type PostgresStore struct {
	*ConversationRepo
	*MessageRepo
	*ReactionRepo
}

// NewPostgresStore constructs a Store over db.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		ConversationRepo: NewConversationRepo(db),
		MessageRepo:      NewMessageRepo(db),
		ReactionRepo:     NewReactionRepo(db),
	}
}

var _ Store = (*PostgresStore)(nil)
