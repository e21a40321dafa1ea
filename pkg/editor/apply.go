package editor

import (
	"github.com/yunyaopan/pcd-workflowplus/pkg/jsonutil"
	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
)

// Op names an edit operation.
type Op string

const (
	OpAddInputTable          Op = "add_input_table"
	OpRemoveInputTable       Op = "remove_input_table"
	OpRenameInputTable       Op = "rename_input_table"
	OpAddInputColumn         Op = "add_input_column"
	OpRemoveInputColumn      Op = "remove_input_column"
	OpRenameInputColumn      Op = "rename_input_column"
	OpChangeInputColumnType  Op = "change_input_column_type"
	OpAddInputRow            Op = "add_input_row"
	OpRemoveInputRow         Op = "remove_input_row"
	OpUpdateInputCell        Op = "update_input_cell"
	OpAddInputParam          Op = "add_input_param"
	OpRemoveInputParam       Op = "remove_input_param"
	OpUpdateInputParam       Op = "update_input_param"
	OpSetOutputName          Op = "set_output_name"
	OpSetBaseLogic           Op = "set_base_logic"
	OpAddOutputColumn        Op = "add_output_column"
	OpRemoveOutputColumn     Op = "remove_output_column"
	OpRenameOutputColumn     Op = "rename_output_column"
	OpToggleOutputColumnLLM  Op = "toggle_output_column_llm"
	OpSetOutputColumnLogic   Op = "set_output_column_logic"
	OpChangeOutputColumnType Op = "change_output_column_type"
	OpAddOutputRow           Op = "add_output_row"
	OpRemoveOutputRow        Op = "remove_output_row"
	OpUpdateOutputCell       Op = "update_output_cell"
)

// Edit is a JSON-decodable request for one edit operation. Only the fields
// the operation needs are read.
type Edit struct {
	Op         Op              `json:"op"`
	TableID    models.EntityID `json:"table_id,omitempty"`
	ColumnID   models.EntityID `json:"column_id,omitempty"`
	RowID      models.EntityID `json:"row_id,omitempty"`
	ParamID    models.EntityID `json:"param_id,omitempty"`
	Name       string          `json:"name,omitempty"`
	Type       models.DataType `json:"type,omitempty"`
	Options    []string        `json:"options,omitempty"`
	OptionsCSV string          `json:"options_csv,omitempty"`
	Logic      string          `json:"logic,omitempty"`
	IsLLM      bool            `json:"is_llm,omitempty"`
	Field      string          `json:"field,omitempty"`
	Value      any             `json:"value,omitempty"`
}

// Apply dispatches edit. It returns the new snapshot and, for operations that
// create something, the new entity's id.
func (e *Editor) Apply(s models.Snapshot, edit Edit) (models.Snapshot, models.EntityID, error) {
	var (
		out = s
		id  models.EntityID
		err error
	)

	switch edit.Op {
	case OpAddInputTable:
		out, id = e.AddInputTable(s)
	case OpRemoveInputTable:
		out, err = e.RemoveInputTable(s, edit.TableID)
	case OpRenameInputTable:
		out, err = e.RenameInputTable(s, edit.TableID, edit.Name)
	case OpAddInputColumn:
		out, id, err = e.AddInputColumn(s, edit.TableID, edit.Type, edit.OptionsCSV)
	case OpRemoveInputColumn:
		out, err = e.RemoveInputColumn(s, edit.TableID, edit.ColumnID)
	case OpRenameInputColumn:
		out, err = e.RenameInputColumn(s, edit.TableID, edit.ColumnID, edit.Name)
	case OpChangeInputColumnType:
		out, err = e.ChangeInputColumnType(s, edit.TableID, edit.ColumnID, edit.Type, edit.Options)
	case OpAddInputRow:
		out, id, err = e.AddInputRow(s, edit.TableID)
	case OpRemoveInputRow:
		out, err = e.RemoveInputRow(s, edit.TableID, edit.RowID)
	case OpUpdateInputCell:
		out, err = e.UpdateInputCell(s, edit.TableID, edit.RowID, edit.ColumnID, edit.Value)
	case OpAddInputParam:
		out, id = e.AddInputParam(s)
	case OpRemoveInputParam:
		out, err = e.RemoveInputParam(s, edit.ParamID)
	case OpUpdateInputParam:
		out, err = e.UpdateInputParam(s, edit.ParamID, edit.Field, stringValue(edit.Value))
	case OpSetOutputName:
		out = e.SetOutputName(s, edit.Name)
	case OpSetBaseLogic:
		out = e.SetBaseLogic(s, edit.Logic)
	case OpAddOutputColumn:
		out, id, err = e.AddOutputColumn(s, edit.Type, edit.OptionsCSV, edit.Logic, edit.IsLLM)
	case OpRemoveOutputColumn:
		out, err = e.RemoveOutputColumn(s, edit.ColumnID)
	case OpRenameOutputColumn:
		out, err = e.RenameOutputColumn(s, edit.ColumnID, edit.Name)
	case OpToggleOutputColumnLLM:
		out, err = e.ToggleOutputColumnLLM(s, edit.ColumnID)
	case OpSetOutputColumnLogic:
		out, err = e.SetOutputColumnLogic(s, edit.ColumnID, edit.Logic)
	case OpChangeOutputColumnType:
		out, err = e.ChangeOutputColumnType(s, edit.ColumnID, edit.Type, edit.Logic, edit.Options)
	case OpAddOutputRow:
		out, id = e.AddOutputRow(s)
	case OpRemoveOutputRow:
		out, err = e.RemoveOutputRow(s, edit.RowID)
	case OpUpdateOutputCell:
		out, err = e.UpdateOutputCell(s, edit.RowID, edit.ColumnID, edit.Value)
	default:
		return s, "", invalid("unknown edit operation %q", edit.Op)
	}

	if err != nil {
		return s, "", err
	}
	return out, id, nil
}

func stringValue(v any) string {
	return jsonutil.ScalarString(v)
}
