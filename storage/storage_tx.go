package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Tx runs named queries inside one database transaction. Cache writes for
// updated rows and evictions are queued and applied only after Commit, so a
// rolled back change never reaches redis.
type Tx interface {
	SelectAll(ctx context.Context, args interface{}, dest interface{}, queryName string, opts *SelectOptions) error
	Update(ctx context.Context, queryName string, args interface{}, dest interface{}) error
	Exec(ctx context.Context, queryName string, args interface{}) (int64, error)

	// Evict queues cache deletion of the given rows.
	Evict(objs ...interface{})

	Commit(ctx context.Context) error
	// Rollback is a no-op after Commit.
	Rollback() error
}

type pendingAction struct {
	queryName string
	obj       interface{}
	action    actionTypes
}

type tx struct {
	s       *storage
	tx      *sqlx.Tx
	pending []pendingAction
}

func (s *storage) Begin(ctx context.Context) (Tx, error) {
	t, err := s.db.writeConn().BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	s.log.debug("Begin()")
	return &tx{s: s, tx: t}, nil
}

func (t *tx) SelectAll(ctx context.Context, args interface{}, dest interface{}, queryName string, opts *SelectOptions) error {
	return t.s.selectAll(ctx, t.tx, args, dest, queryName, opts)
}

func (t *tx) Update(ctx context.Context, queryName string, args interface{}, dest interface{}) error {
	cacheable, err := t.s.updateRow(ctx, t.tx, queryName, args, dest)
	if err != nil || !cacheable {
		return err
	}
	t.pending = append(t.pending, pendingAction{queryName: queryName, obj: dest, action: actionUpdate})
	return nil
}

func (t *tx) Exec(ctx context.Context, queryName string, args interface{}) (int64, error) {
	return t.s.exec(ctx, t.tx, queryName, args)
}

func (t *tx) Evict(objs ...interface{}) {
	for _, obj := range objs {
		t.pending = append(t.pending, pendingAction{obj: obj, action: actionDelete})
	}
}

// Commit commits and then applies the queued cache actions. Cache failures
// are logged; the commit has already happened.
func (t *tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return err
	}
	for _, p := range t.pending {
		if p.action == actionUpdate {
			t.s.cacheUpdate(ctx, p.queryName, p.obj)
			continue
		}
		if err := t.s.actionNonSelect(ctx, p.obj, actionDelete); err != nil {
			t.s.log.warn(err, "storage: cache evict after commit")
		}
	}
	t.pending = nil
	return nil
}

func (t *tx) Rollback() error {
	t.pending = nil
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
