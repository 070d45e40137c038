package storage

import (
	"fmt"
	"strings"
)

type actionTypes int32

const (
	actionSelect actionTypes = iota
	actionInsert
	actionUpdate
	actionDelete
)

// CacheAction is what happens to a select query's cache key when a row of
// its table is selected, inserted or updated.
type CacheAction int32

const (
	CacheDefault  CacheAction = iota
	CacheNoAction             // do nothing
	CacheDel
	CacheSet
)

// QueryKind says how a query is executed.
type QueryKind int32

const (
	// QuerySelect reads rows. It may be cached.
	QuerySelect QueryKind = iota
	// QueryUpdate is a narrow UPDATE ... RETURNING *. Zero rows back means
	// the WHERE clause did not match, which callers use as a lost
	// compare-and-set.
	QueryUpdate
	// QueryExec runs a statement that returns no rows, e.g. a DELETE.
	QueryExec
)

func (k QueryKind) String() string {
	switch k {
	case QuerySelect:
		return "select"
	case QueryUpdate:
		return "update"
	case QueryExec:
		return "exec"
	}
	return "unknown"
}

// Query is one named SQL statement against a table.
type Query struct {
	Name string
	Kind QueryKind

	// CacheKey is the per-row part of the cache key, e.g. `id=%v`. Each
	// `field=%v` segment is filled from the named parameter of the same
	// name. Segments are separated by `|`.
	CacheKey string

	Query string // named sql, e.g. `select * from leads where id=:id`

	CacheTTL int // seconds; 0 = Config.DefaultTTL

	InsertAction CacheAction
	UpdateAction CacheAction
	SelectAction CacheAction

	tableName        string
	fullCacheKey     string
	cacheKeyFields   []string
	queryLimitOffset string
}

// getKeyName fills the query's cache key with values from args, e.g.
// `service:leadpipe|lead|id=4c1e...`.
func (q *Query) getKeyName(values []interface{}) string {
	return q.fullCacheKey + "|" + fmt.Sprintf(q.CacheKey, values...)
}

func (q *Query) cached() bool {
	return q.CacheKey != "" &&
		(q.SelectAction == CacheSet || q.InsertAction == CacheSet || q.UpdateAction == CacheSet)
}

// Table groups the queries that read or write rows of one struct type.
type Table struct {
	Struct interface{} // DB struct this is based off of, e.g. lead.Lead{}

	PrimaryQueryName string // the select that fetches by primary key, e.g. LeadsGetByID
	PrimaryKeyField  string // column of the primary key, e.g. id
	InsertQuery      string // named insert; must end with `RETURNING *`

	Queries []*Query

	tableName string
}

// SelectOptions bounds a SelectAll.
type SelectOptions struct {
	Limit  int // <= 0 means no limit
	Offset int
}

func (o *SelectOptions) limited() bool {
	return o != nil && o.Limit > 0
}

func returnsRows(query string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(query)), "returning *")
}
