package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yunyaopan/pcd-workflowplus/pkg/jsonutil"
)

// DataType is the declared semantic type of a column or parameter.
type DataType string

const (
	DataTypeText    DataType = "text"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeDate    DataType = "date"
	DataTypeSelect  DataType = "select"
)

// Valid reports whether t is one of the known column types.
func (t DataType) Valid() bool {
	switch t {
	case DataTypeText, DataTypeNumber, DataTypeBoolean, DataTypeDate, DataTypeSelect:
		return true
	}
	return false
}

// ValidParamType reports whether t may be used for an input parameter (no select).
func (t DataType) ValidParamType() bool {
	return t.Valid() && t != DataTypeSelect
}

// RowIDKey is the reserved row key holding the row's own identifier.
const RowIDKey = "id"

// EntityID identifies a table, column, row or parameter inside a transformation.
// Older documents stored millisecond timestamps as JSON numbers, so decoding
// accepts both strings and numbers.
type EntityID string

// UnmarshalJSON accepts a JSON string or number.
func (id *EntityID) UnmarshalJSON(data []byte) error {
	*id = EntityID(jsonutil.FlexibleStringValue(json.RawMessage(data)))
	return nil
}

// Column describes one column of an input or output table.
// Logic and IsLLM are only meaningful on output columns.
type Column struct {
	ID      EntityID `json:"id"`
	Name    string   `json:"name"`
	Type    DataType `json:"type"`
	Options []string `json:"options,omitempty"` // present iff Type == select
	Logic   string   `json:"logic,omitempty"`
	IsLLM   bool     `json:"isLLM,omitempty"`
}

// MarshalJSON always emits options on a select column, as [] when there are
// none yet, so the column still validates after a round trip.
func (c Column) MarshalJSON() ([]byte, error) {
	type plain Column
	if c.Type != DataTypeSelect {
		return json.Marshal(plain(c))
	}
	options := c.Options
	if options == nil {
		options = []string{}
	}
	return json.Marshal(struct {
		plain
		Options []string `json:"options"`
	}{plain(c), options})
}

// Validate checks the column invariants.
func (c *Column) Validate() error {
	if !c.Type.Valid() {
		return fmt.Errorf("column %q: unknown type %q", c.Name, c.Type)
	}
	if c.Type == DataTypeSelect && c.Options == nil {
		return fmt.Errorf("column %q: select column requires options", c.Name)
	}
	if c.Type != DataTypeSelect && c.Options != nil {
		return fmt.Errorf("column %q: options are only allowed on select columns", c.Name)
	}
	return nil
}

// Row maps column ids (plus the reserved "id" key) to raw cell values.
// Raw values are strings or booleans; numeric cells hold numeric-looking strings.
type Row map[string]any

// ID returns the row identifier stored under the reserved key.
func (r Row) ID() EntityID {
	switch v := r[RowIDKey].(type) {
	case nil:
		return ""
	case string:
		return EntityID(v)
	case EntityID:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return EntityID(fmt.Sprint(v))
		}
		return EntityID(jsonutil.FlexibleStringValue(raw))
	}
}

// Clone returns a shallow copy of the row. Cell values are immutable scalars.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// InputTable is an example input table.
type InputTable struct {
	ID      EntityID `json:"id"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// InputParam is a scalar input parameter with an example value.
type InputParam struct {
	ID          EntityID `json:"id"`
	Name        string   `json:"name"`
	Type        DataType `json:"type"`
	Value       string   `json:"value"`
	Description string   `json:"description,omitempty"`
}

// OutputTable describes the desired output and its expected example rows.
type OutputTable struct {
	Name      string   `json:"name"`
	BaseLogic string   `json:"baseLogic"`
	Columns   []Column `json:"columns"`
	Rows      []Row    `json:"rows"`
}

// Snapshot is the complete editable value of a transformation at a point in time.
type Snapshot struct {
	InputTables []InputTable `json:"input_tables"`
	InputParams []InputParam `json:"input_params"`
	OutputTable OutputTable  `json:"output_table"`
}

// NewSnapshot returns an empty snapshot with non-nil collections.
func NewSnapshot() Snapshot {
	return Snapshot{
		InputTables: []InputTable{},
		InputParams: []InputParam{},
		OutputTable: OutputTable{Columns: []Column{}, Rows: []Row{}},
	}
}

// HasLLMColumns reports whether any output column is LLM-generated.
func (o *OutputTable) HasLLMColumns() bool {
	for _, col := range o.Columns {
		if col.IsLLM {
			return true
		}
	}
	return false
}

// Validate checks column invariants and that rows only reference known columns.
func (s *Snapshot) Validate() error {
	for _, t := range s.InputTables {
		if err := validateTable(t.Name, t.Columns, t.Rows); err != nil {
			return err
		}
	}
	for _, p := range s.InputParams {
		if !p.Type.ValidParamType() {
			return fmt.Errorf("parameter %q: unsupported type %q", p.Name, p.Type)
		}
	}
	return validateTable(s.OutputTable.Name, s.OutputTable.Columns, s.OutputTable.Rows)
}

func validateTable(name string, columns []Column, rows []Row) error {
	known := make(map[string]struct{}, len(columns))
	for i := range columns {
		if err := columns[i].Validate(); err != nil {
			return fmt.Errorf("table %q: %w", name, err)
		}
		id := string(columns[i].ID)
		if _, dup := known[id]; dup {
			return fmt.Errorf("table %q: duplicate column id %q", name, id)
		}
		known[id] = struct{}{}
	}
	for i, row := range rows {
		for key := range row {
			if key == RowIDKey {
				continue
			}
			if _, ok := known[key]; !ok {
				return fmt.Errorf("table %q: row %d references unknown column %q", name, i+1, key)
			}
		}
	}
	return nil
}

// Transformation is the persisted unit: a named snapshot owned by a user.
type Transformation struct {
	ID          uuid.UUID    `json:"id"`
	UserID      string       `json:"user_id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	InputTables []InputTable `json:"input_tables"`
	InputParams []InputParam `json:"input_params"`
	OutputTable OutputTable  `json:"output_table"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Snapshot returns the editable part of the transformation.
func (t *Transformation) Snapshot() Snapshot {
	return Snapshot{
		InputTables: t.InputTables,
		InputParams: t.InputParams,
		OutputTable: t.OutputTable,
	}
}

// CoercedRecord is a row keyed by column name holding coerced values.
type CoercedRecord map[string]any

// TestResult is the outcome of validating generated code against expected output.
// A nil Actual means the generated code failed to compile or threw.
type TestResult struct {
	Success  bool            `json:"success"`
	Expected []CoercedRecord `json:"expected"`
	Actual   []CoercedRecord `json:"actual"`
	Error    string          `json:"error,omitempty"`
	Message  string          `json:"message"`
}

// MarshalJSON leaves actual out only when the code never produced a value.
// An empty result is encoded as [].
func (r TestResult) MarshalJSON() ([]byte, error) {
	type plain TestResult
	if r.Actual != nil {
		return json.Marshal(plain(r))
	}
	return json.Marshal(struct {
		plain
		Actual []CoercedRecord `json:"actual,omitempty"`
	}{plain: plain(r)})
}

func cloneColumns(cols []Column) []Column {
	if cols == nil {
		return nil
	}
	out := make([]Column, len(cols))
	for i, c := range cols {
		if c.Options != nil {
			c.Options = append([]string{}, c.Options...)
		}
		out[i] = c
	}
	return out
}

func cloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// Clone returns a deep copy of the table.
func (t InputTable) Clone() InputTable {
	t.Columns = cloneColumns(t.Columns)
	t.Rows = cloneRows(t.Rows)
	return t
}

// Clone returns a deep copy of the table.
func (o OutputTable) Clone() OutputTable {
	o.Columns = cloneColumns(o.Columns)
	o.Rows = cloneRows(o.Rows)
	return o
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{OutputTable: s.OutputTable.Clone()}
	if s.InputTables != nil {
		out.InputTables = make([]InputTable, len(s.InputTables))
		for i, t := range s.InputTables {
			out.InputTables[i] = t.Clone()
		}
	}
	if s.InputParams != nil {
		out.InputParams = append([]InputParam{}, s.InputParams...)
	}
	return out
}
