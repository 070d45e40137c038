package store

import "github.com/osr-alliance/backend-lead-pipeline/storage"

const unsubscribesInsert = `INSERT INTO email_unsubscribes (email, reason, created_at)
VALUES
(:email, :reason, :created_at) ON CONFLICT (email) DO NOTHING RETURNING *` // note: make sure it's RETURNING *

// Only positive lookups land in the cache; a miss is ErrNoRows and is not stored.
func unsubscribesGetByEmail() *storage.Query {
	return &storage.Query{
		Name:     UnsubscribesGetByEmail,
		CacheKey: "email=%v",

		Query: "SELECT * FROM email_unsubscribes WHERE email = :email",

		CacheTTL: DefaultTTL,

		InsertAction: storage.CacheSet,
		UpdateAction: storage.CacheNoAction, // rows are never updated
		SelectAction: storage.CacheSet,
	}
}
