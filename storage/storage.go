// Package storage is a thin layer over sqlx that runs named queries
// registered per table and keeps a redis read-through cache of single-row
// selects in step with inserts and updates.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
	"github.com/sirupsen/logrus"
)

// ErrNoRows is returned when a select or a conditional update matched no row.
var ErrNoRows = errors.New("storage: no rows")

// Storage defines our API for this package
type Storage interface {
	// Insert runs the table's insert query and fills obj with the returned row.
	// ErrNoRows means the insert returned nothing, e.g. ON CONFLICT DO NOTHING.
	Insert(ctx context.Context, obj interface{}) error

	// Select fills obj, which carries the query's named parameters, with the
	// first matching row. Cached queries are served from redis when possible.
	Select(ctx context.Context, obj interface{}, queryName string) error

	// SelectAll fills dest, a pointer to a slice, with every matching row.
	// SelectAll is never cached.
	SelectAll(ctx context.Context, args interface{}, dest interface{}, queryName string, opts *SelectOptions) error

	// Update runs a narrow update query and fills dest with the returned row.
	// ErrNoRows means the WHERE clause matched nothing.
	Update(ctx context.Context, queryName string, args interface{}, dest interface{}) error

	// Exec runs a statement returning no rows and reports rows affected.
	Exec(ctx context.Context, queryName string, args interface{}) (int64, error)

	// DeleteKeys deletes every cached key for the given rows.
	DeleteKeys(ctx context.Context, objs ...interface{}) error

	// Begin starts a transaction on the write connection. Cache changes are
	// held back until Commit succeeds.
	Begin(ctx context.Context) (Tx, error)
}

type Config struct {
	ReadOnlyDbConn  *sqlx.DB
	WriteOnlyDbConn *sqlx.DB
	Redis           *redis.Client // nil disables the cache
	Tables          []*Table
	ServiceName     string
	DefaultTTL      int // seconds

	Debugger bool
	Logger   *logrus.Entry
}

// storage is the private implementation of the API
type storage struct {
	db          *db
	cache       *cache
	serviceName string
	defaultTTL  int
	log         *logger

	tables        []*Table
	queries       map[string]*Query
	queryToTable  map[string]*Table
	structToTable map[string]*Table
}

// New validates the table configuration and returns a Storage.
func New(conf *Config) (Storage, error) {
	if conf.WriteOnlyDbConn == nil {
		return nil, errors.New("storage: WriteOnlyDbConn must be set")
	}
	if conf.ReadOnlyDbConn == nil {
		conf.ReadOnlyDbConn = conf.WriteOnlyDbConn
	}

	// use the json tag instead of the db tag
	conf.ReadOnlyDbConn.Mapper = reflectx.NewMapperFunc("json", strings.ToLower)
	conf.WriteOnlyDbConn.Mapper = reflectx.NewMapperFunc("json", strings.ToLower)

	log := conf.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	l := &logger{entry: log.WithField("component", "storage"), debuggerEnabled: conf.Debugger}

	s := &storage{
		db:            newDB(conf),
		cache:         newCache(conf.Redis, l),
		serviceName:   conf.ServiceName,
		defaultTTL:    conf.DefaultTTL,
		log:           l,
		tables:        conf.Tables,
		queries:       map[string]*Query{},
		queryToTable:  map[string]*Table{},
		structToTable: map[string]*Table{},
	}

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	return s, nil
}

func (s *storage) Insert(ctx context.Context, obj interface{}) error {
	return s.insert(ctx, obj)
}

func (s *storage) Select(ctx context.Context, obj interface{}, queryName string) error {
	return s.selectOne(ctx, obj, queryName)
}

func (s *storage) SelectAll(ctx context.Context, args interface{}, dest interface{}, queryName string, opts *SelectOptions) error {
	return s.selectAll(ctx, s.db.readConn(), args, dest, queryName, opts)
}

func (s *storage) Update(ctx context.Context, queryName string, args interface{}, dest interface{}) error {
	return s.update(ctx, queryName, args, dest)
}

func (s *storage) Exec(ctx context.Context, queryName string, args interface{}) (int64, error) {
	return s.exec(ctx, s.db.writeConn(), queryName, args)
}

func (s *storage) DeleteKeys(ctx context.Context, objs ...interface{}) error {
	for _, obj := range objs {
		if err := s.actionNonSelect(ctx, obj, actionDelete); err != nil {
			return err
		}
	}
	return nil
}
