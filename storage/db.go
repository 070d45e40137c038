package storage

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// namedConn is satisfied by *sqlx.DB and *sqlx.Tx. Both carry the json
// mapper set in New.
type namedConn = sqlx.ExtContext

type db struct {
	writeConnection *sqlx.DB
	readConnection  *sqlx.DB
}

func newDB(conf *Config) *db {
	return &db{
		writeConnection: conf.WriteOnlyDbConn,
		readConnection:  conf.ReadOnlyDbConn,
	}
}

// queryOne scans the first returned row into dest. ErrNoRows if there is none.
func (db *db) queryOne(ctx context.Context, conn namedConn, query string, arg interface{}, dest interface{}) error {
	rows, err := sqlx.NamedQueryContext(ctx, conn, query, arg)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return ErrNoRows
	}
	if err := rows.StructScan(dest); err != nil {
		return err
	}
	return rows.Close()
}

// queryAll scans every returned row into dest, a pointer to a slice.
func (db *db) queryAll(ctx context.Context, conn namedConn, query string, arg interface{}, dest interface{}) error {
	rows, err := sqlx.NamedQueryContext(ctx, conn, query, arg)
	if err != nil {
		return err
	}
	// sqlx.StructScan closes rows
	return sqlx.StructScan(rows, dest)
}

func (db *db) exec(ctx context.Context, conn namedConn, query string, arg interface{}) (int64, error) {
	res, err := sqlx.NamedExecContext(ctx, conn, query, arg)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *db) writeConn() *sqlx.DB {
	return db.writeConnection
}

func (db *db) readConn() *sqlx.DB {
	return db.readConnection
}
