package models

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// JSONDocument stores a typed value in a JSON column through
// datatypes.JSONType. It differs only on read: legacy rows that hold the
// document as a JSON encoded string are unwrapped, and NULL yields the zero
// value instead of an error.
type JSONDocument[T any] struct {
	Data T
}

// NewJSONDocument wraps a value for persistence.
func NewJSONDocument[T any](data T) JSONDocument[T] {
	return JSONDocument[T]{Data: data}
}

func (d JSONDocument[T]) column() datatypes.JSONType[T] {
	return datatypes.NewJSONType(d.Data)
}

// Scan implements sql.Scanner.
func (d *JSONDocument[T]) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		var zero T
		d.Data = zero
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported json column type %T", value)
	}

	unwrapped, err := unwrapDocument(raw)
	if err != nil {
		return err
	}
	var zero T
	if unwrapped == nil {
		d.Data = zero
		return nil
	}

	var column datatypes.JSONType[T]
	if err := column.Scan(unwrapped); err != nil {
		return fmt.Errorf("decode json document: %w", err)
	}
	d.Data = column.Data()
	return nil
}

// Value implements driver.Valuer.
func (d JSONDocument[T]) Value() (driver.Value, error) {
	return d.column().Value()
}

func (d JSONDocument[T]) MarshalJSON() ([]byte, error) {
	return d.column().MarshalJSON()
}

// UnmarshalJSON accepts native or string encoded documents.
func (d *JSONDocument[T]) UnmarshalJSON(raw []byte) error {
	unwrapped, err := unwrapDocument(raw)
	if err != nil {
		return err
	}
	var zero T
	if unwrapped == nil {
		d.Data = zero
		return nil
	}

	var column datatypes.JSONType[T]
	if err := column.UnmarshalJSON(unwrapped); err != nil {
		return fmt.Errorf("decode json document: %w", err)
	}
	d.Data = column.Data()
	return nil
}

func (d JSONDocument[T]) GormDataType() string {
	return d.column().GormDataType()
}

func (d JSONDocument[T]) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return d.column().GormDBDataType(db, field)
}

func (d JSONDocument[T]) GormValue(ctx context.Context, db *gorm.DB) clause.Expr {
	return d.column().GormValue(ctx, db)
}

// unwrapDocument strips string encoding, possibly nested, from a stored
// document. A nil result means the document is empty.
func unwrapDocument(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	for len(trimmed) > 0 && trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, fmt.Errorf("decode json string: %w", err)
		}
		trimmed = bytes.TrimSpace([]byte(inner))
	}
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	return trimmed, nil
}
