package storage

import (
	"fmt"
	"reflect"

	"github.com/jmoiron/sqlx/reflectx"
)

func getStructName(myvar interface{}) string {
	t := reflect.TypeOf(myvar)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

func (s *storage) mapper() *reflectx.Mapper {
	return s.db.readConn().Mapper
}

// argValue returns the named parameter `name` from args, which is either a
// map[string]interface{} or a struct mapped by json tag. Pointers are
// dereferenced so cache keys carry values, not addresses.
func (s *storage) argValue(args interface{}, name string) (interface{}, error) {
	if m, ok := args.(map[string]interface{}); ok {
		v, ok := m[name]
		if !ok {
			return nil, fmt.Errorf("missing parameter %q", name)
		}
		return deref(v), nil
	}

	v := reflect.Indirect(reflect.ValueOf(args))
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("args must be a struct or map; is %T", args)
	}
	fi, ok := s.mapper().TypeMap(v.Type()).Names[name]
	if !ok {
		return nil, fmt.Errorf("%T has no field %q", args, name)
	}
	return deref(reflectx.FieldByIndexesReadOnly(v, fi.Index).Interface()), nil
}

// argMap flattens args into a map so limit and offset can be added.
func (s *storage) argMap(args interface{}) (map[string]interface{}, error) {
	m := map[string]interface{}{}
	switch a := args.(type) {
	case nil:
	case map[string]interface{}:
		for k, v := range a {
			m[k] = v
		}
	default:
		v := reflect.Indirect(reflect.ValueOf(args))
		if v.Kind() != reflect.Struct {
			return nil, fmt.Errorf("args must be a struct or map; is %T", args)
		}
		for name, fv := range s.mapper().FieldMap(v) {
			m[name] = fv.Interface()
		}
	}
	return m, nil
}

func (s *storage) keyName(q *Query, args interface{}) (string, error) {
	values := make([]interface{}, 0, len(q.cacheKeyFields))
	for _, f := range q.cacheKeyFields {
		v, err := s.argValue(args, f)
		if err != nil {
			return "", fmt.Errorf("cache key for %s: %w", q.Name, err)
		}
		values = append(values, v)
	}
	return q.getKeyName(values), nil
}

func deref(v interface{}) interface{} {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func nonNilArgs(args interface{}) interface{} {
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}
