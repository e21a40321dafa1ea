package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
)

func ordersSnapshot() models.Snapshot {
	return models.Snapshot{
		InputTables: []models.InputTable{
			{
				ID:   "t1",
				Name: "Orders",
				Columns: []models.Column{
					{ID: "c1", Name: "item", Type: models.DataTypeText},
					{ID: "c2", Name: "qty", Type: models.DataTypeNumber},
					{ID: "c3", Name: "size", Type: models.DataTypeSelect, Options: []string{"S", "M"}},
				},
				Rows: []models.Row{{"id": "r1", "c1": "Pen", "c2": "3", "c3": "S"}},
			},
		},
		InputParams: []models.InputParam{
			{ID: "p1", Name: "multiplier", Type: models.DataTypeNumber, Value: "2", Description: "factor applied to qty"},
		},
		OutputTable: models.OutputTable{
			Name:      "Totals",
			BaseLogic: "one row per order",
			Columns: []models.Column{
				{ID: "o1", Name: "total", Type: models.DataTypeNumber, Logic: "qty times 2"},
			},
			Rows: []models.Row{{"id": "r1", "o1": "6"}},
		},
	}
}

func TestBuildTransformationPrompt(t *testing.T) {
	prompt, err := BuildTransformationPrompt(ordersSnapshot())
	require.NoError(t, err)

	assert.Contains(t, prompt, "CRITICAL REQUIREMENTS:")
	assert.Contains(t, prompt, `The function name MUST be "transformData"`)
	assert.Contains(t, prompt, "function transformData({ inputTables, params }) { ... }")
	assert.NotContains(t, prompt, "async function")
	assert.Contains(t, prompt, "The function should be deterministic")
	assert.Contains(t, prompt, "Do NOT wrap the code in markdown code blocks")

	assert.Contains(t, prompt, "\nOrders:\n")
	assert.Contains(t, prompt, "  - size (select) [options: S, M]")
	assert.Contains(t, prompt, "  Row 1: item=Pen, qty=3, size=S")
	assert.Contains(t, prompt, "  - multiplier (number): factor applied to qty [Example value: 2]")
	assert.Contains(t, prompt, "OUTPUT TABLE: Totals")
	assert.Contains(t, prompt, "one row per order")
	assert.Contains(t, prompt, "total (number):\n  Logic: qty times 2")
	assert.Contains(t, prompt, "  Row 1: total=6")
	assert.Contains(t, prompt, "EXAMPLE STRUCTURE:")
	assert.NotContains(t, prompt, "openRouterClient.generateCode")
}

func TestBuildTransformationPrompt_SectionOrder(t *testing.T) {
	prompt, err := BuildTransformationPrompt(ordersSnapshot())
	require.NoError(t, err)

	markers := []string{"CRITICAL REQUIREMENTS:", "INPUT DATA TABLES:", "INPUT PARAMETERS:", "OUTPUT TABLE:", "EXAMPLE STRUCTURE:"}
	last := -1
	for _, m := range markers {
		idx := strings.Index(prompt, m)
		require.NotEqual(t, -1, idx, "missing %s", m)
		assert.Greater(t, idx, last, "%s out of order", m)
		last = idx
	}
}

func TestBuildTransformationPrompt_LLMColumns(t *testing.T) {
	s := ordersSnapshot()
	s.OutputTable.Columns = append(s.OutputTable.Columns, models.Column{
		ID: "o2", Name: "blurb", Type: models.DataTypeText, Logic: "a short sales pitch", IsLLM: true,
	})

	prompt, err := BuildTransformationPrompt(s)
	require.NoError(t, err)

	assert.Contains(t, prompt, "async function transformData({ inputTables, params }) { ... }")
	assert.Contains(t, prompt, "blurb (text) [LLM-GENERATED]:")
	assert.Contains(t, prompt, "await openRouterClient.generateCode(prompt, '"+LLMColumnModel+"')")
	assert.Contains(t, prompt, "try-catch")
	assert.NotContains(t, prompt, "The function should be deterministic")
}

func TestBuildTransformationPrompt_MissingSpecification(t *testing.T) {
	s := ordersSnapshot()
	s.OutputTable.Columns = []models.Column{}
	_, err := BuildTransformationPrompt(s)
	assert.ErrorIs(t, err, ErrMissingSpecification)

	s = ordersSnapshot()
	s.OutputTable.Name = "  "
	_, err = BuildTransformationPrompt(s)
	assert.ErrorIs(t, err, ErrMissingSpecification)
}

func TestBuildTransformationPrompt_Deterministic(t *testing.T) {
	a, err := BuildTransformationPrompt(ordersSnapshot())
	require.NoError(t, err)
	b, err := BuildTransformationPrompt(ordersSnapshot())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestBuildTransformationPrompt_BooleanCells(t *testing.T) {
	s := ordersSnapshot()
	s.InputTables[0].Columns = append(s.InputTables[0].Columns, models.Column{ID: "c4", Name: "paid", Type: models.DataTypeBoolean})
	s.InputTables[0].Rows[0]["c4"] = true

	prompt, err := BuildTransformationPrompt(s)
	require.NoError(t, err)
	assert.Contains(t, prompt, "paid=true")
}
