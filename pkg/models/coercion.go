package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CoercionError is returned when a stored value cannot be read as its declared type.
type CoercionError struct {
	Column string
	Value  any
	Type   DataType
}

func (e *CoercionError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("cannot coerce value %q of %q to %s", fmt.Sprint(e.Value), e.Column, e.Type)
	}
	return fmt.Sprintf("cannot coerce value %q to %s", fmt.Sprint(e.Value), e.Type)
}

// Coerce converts a raw stored cell value into the value exposed to generated
// code and used for comparison.
//
//   - number: nil or "" become 0, other strings are parsed as float64
//   - boolean: true iff the value is true or "true"
//   - text, date, select: passed through unchanged
func Coerce(raw any, t DataType) (any, error) {
	switch t {
	case DataTypeNumber:
		return coerceNumber(raw, t)
	case DataTypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return v == "true", nil
		default:
			return false, nil
		}
	default:
		return raw, nil
	}
}

func coerceNumber(raw any, t DataType) (any, error) {
	switch v := raw.(type) {
	case nil:
		return float64(0), nil
	case string:
		if v == "" {
			return float64(0), nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, &CoercionError{Value: raw, Type: t}
		}
		return f, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, &CoercionError{Value: raw, Type: t}
		}
		return f, nil
	default:
		return nil, &CoercionError{Value: raw, Type: t}
	}
}

// CoerceRow re-keys a row from column id to column name, coercing every cell.
func CoerceRow(row Row, columns []Column) (CoercedRecord, error) {
	rec := make(CoercedRecord, len(columns))
	for _, col := range columns {
		v, err := Coerce(row[string(col.ID)], col.Type)
		if err != nil {
			var ce *CoercionError
			if errors.As(err, &ce) {
				ce.Column = col.Name
			}
			return nil, err
		}
		rec[col.Name] = v
	}
	return rec, nil
}

// CoerceRows applies CoerceRow to every row in order.
func CoerceRows(rows []Row, columns []Column) ([]CoercedRecord, error) {
	out := make([]CoercedRecord, 0, len(rows))
	for i, row := range rows {
		rec, err := CoerceRow(row, columns)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// CoerceInputTables builds the inputTables payload keyed by table name.
func CoerceInputTables(tables []InputTable) (map[string][]CoercedRecord, error) {
	out := make(map[string][]CoercedRecord, len(tables))
	for _, t := range tables {
		recs, err := CoerceRows(t.Rows, t.Columns)
		if err != nil {
			return nil, fmt.Errorf("input table %q: %w", t.Name, err)
		}
		out[t.Name] = recs
	}
	return out, nil
}

// CoerceParams builds the params payload keyed by parameter name.
func CoerceParams(params []InputParam) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for _, p := range params {
		v, err := Coerce(p.Value, p.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		out[p.Name] = v
	}
	return out, nil
}
