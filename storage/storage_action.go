package storage

import (
	"context"
	"errors"
)

/*
actionNonSelect takes an action on a specific row that has been inserted, updated or deleted.
Every cached select query of the row's table gets its InsertAction or UpdateAction applied
(CacheDel for deletes). All queries are visited even if one fails; the first error is returned.
*/
func (s *storage) actionNonSelect(ctx context.Context, obj interface{}, action actionTypes) error {
	if action == actionSelect {
		return errors.New("storage: cannot do actionSelect in actionNonSelect")
	}

	table, err := s.tableFor(obj)
	if err != nil {
		return err
	}

	var firstErr error
	for _, k := range table.Queries {
		if k.Kind != QuerySelect || k.CacheKey == "" {
			continue
		}

		var actionToTake CacheAction
		switch action {
		case actionInsert:
			actionToTake = k.InsertAction
		case actionUpdate:
			actionToTake = k.UpdateAction
		case actionDelete:
			actionToTake = CacheDel
		}
		if actionToTake == CacheNoAction {
			continue
		}

		keyName, err := s.keyName(k, obj)
		if err != nil {
			return err
		}

		switch actionToTake {
		case CacheSet:
			err = s.cache.set(ctx, keyName, obj, k.CacheTTL)
		case CacheDel:
			err = s.cache.del(ctx, keyName)
		default:
			err = errors.New("storage: unknown cache action")
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func (s *storage) cacheActionSelect(ctx context.Context, obj interface{}, query *Query) error {
	if query.CacheKey == "" {
		return nil
	}

	keyName, err := s.keyName(query, obj)
	if err != nil {
		return err
	}

	switch query.SelectAction {
	case CacheSet:
		return s.cache.set(ctx, keyName, obj, query.CacheTTL)
	case CacheDel:
		return s.cache.del(ctx, keyName)
	}
	return nil
}
