package storage

import (
	"errors"
	"fmt"
	"strings"
)

// validate checks every table and query and builds the lookup maps.
func (s *storage) validate() error {
	if s.serviceName == "" {
		return errors.New("serviceName must be set")
	}
	if len(s.tables) == 0 {
		return errors.New("at least one table must be configured")
	}

	for _, t := range s.tables {
		if err := t.validate(); err != nil {
			return err
		}
		if _, dup := s.structToTable[t.tableName]; dup {
			return fmt.Errorf("table %s configured twice", t.tableName)
		}
		s.structToTable[t.tableName] = t

		for _, q := range t.Queries {
			if err := q.validate(); err != nil {
				return fmt.Errorf("table %s query %s: %w", t.tableName, q.Name, err)
			}
			if _, dup := s.queries[q.Name]; dup {
				return fmt.Errorf("query %s configured twice", q.Name)
			}

			q.parseTableName(t.tableName)
			q.parseFullCacheKey(s.serviceName, strings.ToLower(t.tableName))
			q.parseTTL(s.defaultTTL)
			q.parseLimitOffsetQuery()

			s.queries[q.Name] = q
			s.queryToTable[q.Name] = t
		}

		pq, ok := s.queries[t.PrimaryQueryName]
		if !ok || s.queryToTable[t.PrimaryQueryName] != t {
			return fmt.Errorf("table %s: PrimaryQueryName %s is not one of its queries", t.tableName, t.PrimaryQueryName)
		}
		if pq.Kind != QuerySelect {
			return fmt.Errorf("table %s: PrimaryQueryName %s must be a select", t.tableName, t.PrimaryQueryName)
		}
	}

	return nil
}
