package storage

import (
	"errors"
	"fmt"
	"strings"
)

func (q *Query) validate() error {
	if q.Name == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(q.Query) == "" {
		return errors.New("query is required")
	}

	q.parseDefaultActions()

	switch q.Kind {
	case QuerySelect:
		if q.CacheKey == "" && q.hasCacheAction() {
			return errors.New("cache actions need a CacheKey")
		}
	case QueryUpdate:
		if !returnsRows(q.Query) {
			return errors.New("update queries must end with `returning *`")
		}
		fallthrough
	case QueryExec:
		// writes reach the cache through the select queries' actions
		if q.CacheKey != "" || q.hasCacheAction() {
			return fmt.Errorf("%s queries cannot have cache settings", q.Kind)
		}
	default:
		return fmt.Errorf("unknown query kind %d", q.Kind)
	}

	return q.validateAndParseCacheFields()
}

func (q *Query) parseDefaultActions() {
	for _, a := range []*CacheAction{&q.InsertAction, &q.UpdateAction, &q.SelectAction} {
		if *a == CacheDefault {
			*a = CacheNoAction
		}
	}
}

func (q *Query) hasCacheAction() bool {
	return q.InsertAction != CacheNoAction || q.UpdateAction != CacheNoAction || q.SelectAction != CacheNoAction
}

// validateAndParseCacheFields takes in a key e.g. `id=%v` and places id into
// cacheKeyFields. Every segment must be `field=%v`.
func (q *Query) validateAndParseCacheFields() error {
	q.cacheKeyFields = nil
	if q.CacheKey == "" {
		return nil
	}

	for _, key := range strings.Split(q.CacheKey, "|") {
		parts := strings.Split(key, "=")
		if len(parts) != 2 || parts[0] == "" || parts[1] != `%v` {
			return fmt.Errorf("invalid CacheKey %q; segments must look like `field=%%v`", q.CacheKey)
		}
		q.cacheKeyFields = append(q.cacheKeyFields, parts[0])
	}
	return nil
}

func (q *Query) parseTableName(tableName string) {
	q.tableName = tableName
}

func (q *Query) parseFullCacheKey(service string, tableName string) {
	// this is an optimization so we don't need to sprintf extra keys and do the lookup
	// small but this is used so many times that it's worth it
	q.fullCacheKey = fmt.Sprintf("service:%s|%s", service, tableName)
}

func (q *Query) parseTTL(defaultTTL int) {
	if q.CacheTTL == 0 {
		q.CacheTTL = defaultTTL
	}
}

func (q *Query) parseLimitOffsetQuery() {
	q.queryLimitOffset = q.Query + " LIMIT :limit OFFSET :offset"
}
