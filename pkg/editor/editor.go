// Package editor implements the edit operations of the transformation editor.
// Every operation takes a snapshot and returns a new one; the input is never
// modified, and on error the caller keeps its original snapshot.
package editor

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/yunyaopan/pcd-workflowplus/pkg/apperrors"
	"github.com/yunyaopan/pcd-workflowplus/pkg/jsonutil"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
)

const (
	DefaultTableName  = "New Table"
	DefaultColumnName = "New Column"
	DefaultParamName  = "parameter"
)

// Editor applies edit operations, drawing fresh ids from its generator.
type Editor struct {
	ids *IDGenerator
}

// New creates an editor. A nil generator gets a wall-clock one.
func New(ids *IDGenerator) *Editor {
	if ids == nil {
		ids = NewIDGenerator()
	}
	return &Editor{ids: ids}
}

func notFound(kind string, id models.EntityID) error {
	return fmt.Errorf("%s %q: %w", kind, id, apperrors.ErrNotFound)
}

func invalid(format string, args ...any) error {
	return apperrors.Validation(format, args...)
}

// ParseOptions splits a comma-separated option list, trimming entries and
// dropping empty ones.
func ParseOptions(csv string) []string {
	out := []string{}
	for _, o := range strings.Split(csv, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// defaultCell is the value a new row or column starts with.
func defaultCell(t models.DataType) any {
	switch t {
	case models.DataTypeBoolean:
		return false
	case models.DataTypeNumber:
		return "0"
	default:
		return ""
	}
}

// normalizeCell keeps raw cells as strings or booleans.
func normalizeCell(v any) any {
	if b, ok := v.(bool); ok {
		return b
	}
	return jsonutil.ScalarString(v)
}

// convertCell re-interprets an existing cell after its column changed type.
func convertCell(v any, t models.DataType, options []string) any {
	switch t {
	case models.DataTypeBoolean:
		if b, ok := v.(bool); ok {
			return b
		}
		return false
	case models.DataTypeNumber:
		s, ok := v.(string)
		if !ok {
			return "0"
		}
		if strings.TrimSpace(s) == "" {
			return s
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return "0"
		}
		return s
	case models.DataTypeSelect:
		s := jsonutil.ScalarString(v)
		if slices.Contains(options, s) {
			return s
		}
		if len(options) > 0 {
			return options[0]
		}
		return ""
	default:
		if v == nil || v == false {
			return ""
		}
		return jsonutil.ScalarString(v)
	}
}

func newColumn(id models.EntityID, t models.DataType, optionsCSV string) (models.Column, error) {
	if !t.Valid() {
		return models.Column{}, invalid("unknown column type %q", t)
	}
	col := models.Column{ID: id, Name: DefaultColumnName, Type: t}
	if t == models.DataTypeSelect {
		col.Options = ParseOptions(optionsCSV)
	}
	return col, nil
}

// retype changes a column's type and converts the cells of rows accordingly.
// A select column keeps its previous options when none are supplied.
func retype(cols []models.Column, rows []models.Row, colID models.EntityID, t models.DataType, options []string) error {
	if !t.Valid() {
		return invalid("unknown column type %q", t)
	}
	idx := columnIndex(cols, colID)
	if idx < 0 {
		return notFound("column", colID)
	}

	col := &cols[idx]
	switch {
	case t != models.DataTypeSelect:
		col.Options = nil
	case options != nil:
		col.Options = append([]string{}, options...)
	case col.Options == nil:
		col.Options = []string{}
	}
	col.Type = t

	for _, row := range rows {
		row[string(colID)] = convertCell(row[string(colID)], t, col.Options)
	}
	return nil
}

func columnIndex(cols []models.Column, id models.EntityID) int {
	return slices.IndexFunc(cols, func(c models.Column) bool { return c.ID == id })
}

func rowIndex(rows []models.Row, id models.EntityID) int {
	return slices.IndexFunc(rows, func(r models.Row) bool { return r.ID() == id })
}

func newRow(id models.EntityID, cols []models.Column) models.Row {
	row := models.Row{models.RowIDKey: string(id)}
	for _, col := range cols {
		row[string(col.ID)] = defaultCell(col.Type)
	}
	return row
}

func setCell(cols []models.Column, rows []models.Row, rowID, colID models.EntityID, value any) error {
	if columnIndex(cols, colID) < 0 {
		return notFound("column", colID)
	}
	i := rowIndex(rows, rowID)
	if i < 0 {
		return notFound("row", rowID)
	}
	rows[i][string(colID)] = normalizeCell(value)
	return nil
}

func dropColumn(cols []models.Column, rows []models.Row, colID models.EntityID) ([]models.Column, error) {
	idx := columnIndex(cols, colID)
	if idx < 0 {
		return nil, notFound("column", colID)
	}
	for _, row := range rows {
		delete(row, string(colID))
	}
	return slices.Delete(cols, idx, idx+1), nil
}

func dropRow(rows []models.Row, rowID models.EntityID) ([]models.Row, error) {
	idx := rowIndex(rows, rowID)
	if idx < 0 {
		return nil, notFound("row", rowID)
	}
	return slices.Delete(rows, idx, idx+1), nil
}

// inputTable returns a copy of s and a pointer to the named table inside it.
func inputTable(s models.Snapshot, tableID models.EntityID) (models.Snapshot, *models.InputTable, error) {
	out := s.Clone()
	for i := range out.InputTables {
		if out.InputTables[i].ID == tableID {
			return out, &out.InputTables[i], nil
		}
	}
	return s, nil, notFound("input table", tableID)
}

// Input tables

// AddInputTable appends an empty table named "New Table".
func (e *Editor) AddInputTable(s models.Snapshot) (models.Snapshot, models.EntityID) {
	out := s.Clone()
	id := e.ids.Next()
	out.InputTables = append(out.InputTables, models.InputTable{
		ID:      id,
		Name:    DefaultTableName,
		Columns: []models.Column{},
		Rows:    []models.Row{},
	})
	return out, id
}

func (e *Editor) RemoveInputTable(s models.Snapshot, tableID models.EntityID) (models.Snapshot, error) {
	idx := slices.IndexFunc(s.InputTables, func(t models.InputTable) bool { return t.ID == tableID })
	if idx < 0 {
		return s, notFound("input table", tableID)
	}
	out := s.Clone()
	out.InputTables = slices.Delete(out.InputTables, idx, idx+1)
	return out, nil
}

func (e *Editor) RenameInputTable(s models.Snapshot, tableID models.EntityID, name string) (models.Snapshot, error) {
	out, t, err := inputTable(s, tableID)
	if err != nil {
		return s, err
	}
	t.Name = name
	return out, nil
}

// AddInputColumn appends a column and gives every existing row its default value.
func (e *Editor) AddInputColumn(s models.Snapshot, tableID models.EntityID, t models.DataType, optionsCSV string) (models.Snapshot, models.EntityID, error) {
	out, table, err := inputTable(s, tableID)
	if err != nil {
		return s, "", err
	}
	col, err := newColumn(e.ids.Next(), t, optionsCSV)
	if err != nil {
		return s, "", err
	}
	table.Columns = append(table.Columns, col)
	for _, row := range table.Rows {
		row[string(col.ID)] = defaultCell(t)
	}
	return out, col.ID, nil
}

// RemoveInputColumn drops the column and its key from every row.
func (e *Editor) RemoveInputColumn(s models.Snapshot, tableID, colID models.EntityID) (models.Snapshot, error) {
	out, table, err := inputTable(s, tableID)
	if err != nil {
		return s, err
	}
	if table.Columns, err = dropColumn(table.Columns, table.Rows, colID); err != nil {
		return s, err
	}
	return out, nil
}

func (e *Editor) RenameInputColumn(s models.Snapshot, tableID, colID models.EntityID, name string) (models.Snapshot, error) {
	out, table, err := inputTable(s, tableID)
	if err != nil {
		return s, err
	}
	idx := columnIndex(table.Columns, colID)
	if idx < 0 {
		return s, notFound("column", colID)
	}
	table.Columns[idx].Name = name
	return out, nil
}

// ChangeInputColumnType changes the column type and converts existing cells.
func (e *Editor) ChangeInputColumnType(s models.Snapshot, tableID, colID models.EntityID, t models.DataType, options []string) (models.Snapshot, error) {
	out, table, err := inputTable(s, tableID)
	if err != nil {
		return s, err
	}
	if err := retype(table.Columns, table.Rows, colID, t, options); err != nil {
		return s, err
	}
	return out, nil
}

func (e *Editor) AddInputRow(s models.Snapshot, tableID models.EntityID) (models.Snapshot, models.EntityID, error) {
	out, table, err := inputTable(s, tableID)
	if err != nil {
		return s, "", err
	}
	id := e.ids.Next()
	table.Rows = append(table.Rows, newRow(id, table.Columns))
	return out, id, nil
}

func (e *Editor) RemoveInputRow(s models.Snapshot, tableID, rowID models.EntityID) (models.Snapshot, error) {
	out, table, err := inputTable(s, tableID)
	if err != nil {
		return s, err
	}
	if table.Rows, err = dropRow(table.Rows, rowID); err != nil {
		return s, err
	}
	return out, nil
}

func (e *Editor) UpdateInputCell(s models.Snapshot, tableID, rowID, colID models.EntityID, value any) (models.Snapshot, error) {
	out, table, err := inputTable(s, tableID)
	if err != nil {
		return s, err
	}
	if err := setCell(table.Columns, table.Rows, rowID, colID, value); err != nil {
		return s, err
	}
	return out, nil
}

// Input parameters

// AddInputParam appends a text parameter named "parameter".
func (e *Editor) AddInputParam(s models.Snapshot) (models.Snapshot, models.EntityID) {
	out := s.Clone()
	id := e.ids.Next()
	out.InputParams = append(out.InputParams, models.InputParam{
		ID:   id,
		Name: DefaultParamName,
		Type: models.DataTypeText,
	})
	return out, id
}

func (e *Editor) RemoveInputParam(s models.Snapshot, paramID models.EntityID) (models.Snapshot, error) {
	idx := slices.IndexFunc(s.InputParams, func(p models.InputParam) bool { return p.ID == paramID })
	if idx < 0 {
		return s, notFound("parameter", paramID)
	}
	out := s.Clone()
	out.InputParams = slices.Delete(out.InputParams, idx, idx+1)
	return out, nil
}

// UpdateInputParam sets one of name, type, value or description.
func (e *Editor) UpdateInputParam(s models.Snapshot, paramID models.EntityID, field, value string) (models.Snapshot, error) {
	out := s.Clone()
	idx := slices.IndexFunc(out.InputParams, func(p models.InputParam) bool { return p.ID == paramID })
	if idx < 0 {
		return s, notFound("parameter", paramID)
	}
	p := &out.InputParams[idx]
	switch field {
	case "name":
		p.Name = value
	case "type":
		t := models.DataType(value)
		if !t.ValidParamType() {
			return s, invalid("unsupported parameter type %q", value)
		}
		p.Type = t
	case "value":
		p.Value = value
	case "description":
		p.Description = value
	default:
		return s, invalid("unknown parameter field %q", field)
	}
	return out, nil
}

// Output table

func (e *Editor) SetOutputName(s models.Snapshot, name string) models.Snapshot {
	out := s.Clone()
	out.OutputTable.Name = name
	return out
}

func (e *Editor) SetBaseLogic(s models.Snapshot, logic string) models.Snapshot {
	out := s.Clone()
	out.OutputTable.BaseLogic = logic
	return out
}

func (e *Editor) AddOutputColumn(s models.Snapshot, t models.DataType, optionsCSV, logic string, isLLM bool) (models.Snapshot, models.EntityID, error) {
	col, err := newColumn(e.ids.Next(), t, optionsCSV)
	if err != nil {
		return s, "", err
	}
	col.Logic = logic
	col.IsLLM = isLLM

	out := s.Clone()
	out.OutputTable.Columns = append(out.OutputTable.Columns, col)
	for _, row := range out.OutputTable.Rows {
		row[string(col.ID)] = defaultCell(t)
	}
	return out, col.ID, nil
}

func (e *Editor) RemoveOutputColumn(s models.Snapshot, colID models.EntityID) (models.Snapshot, error) {
	out := s.Clone()
	cols, err := dropColumn(out.OutputTable.Columns, out.OutputTable.Rows, colID)
	if err != nil {
		return s, err
	}
	out.OutputTable.Columns = cols
	return out, nil
}

// updateOutputColumn applies fn to a copy of the output column.
func updateOutputColumn(s models.Snapshot, colID models.EntityID, fn func(*models.Column)) (models.Snapshot, error) {
	out := s.Clone()
	idx := columnIndex(out.OutputTable.Columns, colID)
	if idx < 0 {
		return s, notFound("column", colID)
	}
	fn(&out.OutputTable.Columns[idx])
	return out, nil
}

func (e *Editor) RenameOutputColumn(s models.Snapshot, colID models.EntityID, name string) (models.Snapshot, error) {
	return updateOutputColumn(s, colID, func(c *models.Column) { c.Name = name })
}

func (e *Editor) ToggleOutputColumnLLM(s models.Snapshot, colID models.EntityID) (models.Snapshot, error) {
	return updateOutputColumn(s, colID, func(c *models.Column) { c.IsLLM = !c.IsLLM })
}

func (e *Editor) SetOutputColumnLogic(s models.Snapshot, colID models.EntityID, logic string) (models.Snapshot, error) {
	return updateOutputColumn(s, colID, func(c *models.Column) { c.Logic = logic })
}

// ChangeOutputColumnType changes type and logic together and converts existing cells.
func (e *Editor) ChangeOutputColumnType(s models.Snapshot, colID models.EntityID, t models.DataType, logic string, options []string) (models.Snapshot, error) {
	out := s.Clone()
	if err := retype(out.OutputTable.Columns, out.OutputTable.Rows, colID, t, options); err != nil {
		return s, err
	}
	out.OutputTable.Columns[columnIndex(out.OutputTable.Columns, colID)].Logic = logic
	return out, nil
}

func (e *Editor) AddOutputRow(s models.Snapshot) (models.Snapshot, models.EntityID) {
	out := s.Clone()
	id := e.ids.Next()
	out.OutputTable.Rows = append(out.OutputTable.Rows, newRow(id, out.OutputTable.Columns))
	return out, id
}

func (e *Editor) RemoveOutputRow(s models.Snapshot, rowID models.EntityID) (models.Snapshot, error) {
	out := s.Clone()
	rows, err := dropRow(out.OutputTable.Rows, rowID)
	if err != nil {
		return s, err
	}
	out.OutputTable.Rows = rows
	return out, nil
}

func (e *Editor) UpdateOutputCell(s models.Snapshot, rowID, colID models.EntityID, value any) (models.Snapshot, error) {
	out := s.Clone()
	if err := setCell(out.OutputTable.Columns, out.OutputTable.Rows, rowID, colID, value); err != nil {
		return s, err
	}
	return out, nil
}
