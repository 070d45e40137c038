package storage

import (
	"errors"
	"fmt"
)

func (t *Table) validate() error {
	if t.Struct == nil {
		return errors.New("Struct must be set")
	}

	t.parseTableName()

	// you can have no primary key only if you have no insert query
	if t.PrimaryKeyField == "" && t.InsertQuery != "" {
		return fmt.Errorf("Table: %s Err: PrimaryKeyField must be set", t.tableName)
	}

	if t.PrimaryQueryName == "" {
		return fmt.Errorf("Table: %s Err: PrimaryQueryName must be set", t.tableName)
	}

	if len(t.Queries) == 0 {
		return fmt.Errorf("Table: %s Err: Queries must be set", t.tableName)
	}

	if t.InsertQuery != "" && !returnsRows(t.InsertQuery) {
		return fmt.Errorf("Table: %s Err: InsertQuery must end with `returning *`", t.tableName)
	}
	return nil
}

func (t *Table) parseTableName() {
	// optimization but this is used so many times that it's worth it given it uses reflection
	t.tableName = getStructName(t.Struct)
}
