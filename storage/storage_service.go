package storage

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/go-redis/redis/v8"
)

func (s *storage) query(queryName string, kind QueryKind) (*Query, error) {
	q, ok := s.queries[queryName]
	if !ok {
		return nil, fmt.Errorf("storage: query %q not found; have you configured storage properly?", queryName)
	}
	if q.Kind != kind {
		return nil, fmt.Errorf("storage: query %q is not a %s query", queryName, kind)
	}
	return q, nil
}

func (s *storage) tableFor(obj interface{}) (*Table, error) {
	structName := getStructName(obj)
	if structName == "" {
		return nil, errors.New("storage: struct name cannot be blank")
	}
	table, ok := s.structToTable[structName]
	if !ok {
		return nil, errors.New("storage: no table configured for " + structName)
	}
	return table, nil
}

func (s *storage) selectOne(ctx context.Context, obj interface{}, queryName string) error {
	if reflect.ValueOf(obj).Kind() != reflect.Ptr {
		return fmt.Errorf("storage: obj not pointer; is %T", obj)
	}

	q, err := s.query(queryName, QuerySelect)
	if err != nil {
		return err
	}

	if q.cached() {
		keyName, err := s.keyName(q, obj)
		if err != nil {
			return err
		}

		// the obj is the type the cache holds so we can unmarshal straight into it
		err = s.cache.get(ctx, keyName, obj)
		if err == nil {
			s.log.debug("selectOne() cache hit %s", keyName)
			return nil
		}
		if err != redis.Nil {
			s.log.warn(err, "storage: cache get %s", keyName)
		}
	}

	if err := s.db.queryOne(ctx, s.db.readConn(), q.Query, obj, obj); err != nil {
		return err
	}

	if err := s.cacheActionSelect(ctx, obj, q); err != nil {
		s.log.warn(err, "storage: cache select action for %s", q.Name)
	}
	return nil
}

func (s *storage) selectAll(ctx context.Context, conn namedConn, args interface{}, dest interface{}, queryName string, opts *SelectOptions) error {
	if reflect.ValueOf(dest).Kind() != reflect.Ptr {
		return fmt.Errorf("storage: dest not pointer; is %T", dest)
	}

	q, err := s.query(queryName, QuerySelect)
	if err != nil {
		return err
	}

	query, arg := q.Query, nonNilArgs(args)
	if opts.limited() {
		m, err := s.argMap(args)
		if err != nil {
			return err
		}
		m["limit"] = opts.Limit
		m["offset"] = opts.Offset
		query, arg = q.queryLimitOffset, m
	}

	s.log.debug("selectAll() %s", q.Name)
	return s.db.queryAll(ctx, conn, query, arg, dest)
}

func (s *storage) insert(ctx context.Context, obj interface{}) error {
	table, err := s.tableFor(obj)
	if err != nil {
		return err
	}
	if table.InsertQuery == "" {
		return fmt.Errorf("storage: table %s has no insert query", table.tableName)
	}

	// ErrNoRows here means the insert was skipped, e.g. ON CONFLICT DO NOTHING
	if err := s.db.queryOne(ctx, s.db.writeConn(), table.InsertQuery, obj, obj); err != nil {
		return err
	}

	// the row is written; a cache failure only costs a miss later
	if err := s.actionNonSelect(ctx, obj, actionInsert); err != nil {
		s.log.warn(err, "storage: cache insert action for %s", table.tableName)
	}
	return nil
}

// updateRow runs an update query. cacheable reports whether dest is a row of
// the query's table and so may be written to the cache.
func (s *storage) updateRow(ctx context.Context, conn namedConn, queryName string, args interface{}, dest interface{}) (cacheable bool, err error) {
	q, err := s.query(queryName, QueryUpdate)
	if err != nil {
		return false, err
	}
	if err := s.db.queryOne(ctx, conn, q.Query, nonNilArgs(args), dest); err != nil {
		return false, err
	}
	return getStructName(dest) == s.queryToTable[queryName].tableName, nil
}

func (s *storage) update(ctx context.Context, queryName string, args interface{}, dest interface{}) error {
	cacheable, err := s.updateRow(ctx, s.db.writeConn(), queryName, args, dest)
	if err != nil || !cacheable {
		return err
	}
	s.cacheUpdate(ctx, queryName, dest)
	return nil
}

func (s *storage) cacheUpdate(ctx context.Context, queryName string, dest interface{}) {
	if err := s.actionNonSelect(ctx, dest, actionUpdate); err != nil {
		// a stale entry must not outlive the write
		s.log.warn(err, "storage: cache update action for %s", queryName)
		if err := s.actionNonSelect(ctx, dest, actionDelete); err != nil {
			s.log.warn(err, "storage: cache delete after failed update for %s", queryName)
		}
	}
}

func (s *storage) exec(ctx context.Context, conn namedConn, queryName string, args interface{}) (int64, error) {
	q, err := s.query(queryName, QueryExec)
	if err != nil {
		return 0, err
	}
	return s.db.exec(ctx, conn, q.Query, nonNilArgs(args))
}
