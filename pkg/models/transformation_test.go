package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumn_SelectWithoutOptionsSurvivesJSON(t *testing.T) {
	col := Column{ID: "c1", Name: "size", Type: DataTypeSelect, Options: []string{}}

	data, err := json.Marshal(col)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"options":[]`)

	var decoded Column
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.NotNil(t, decoded.Options)
	assert.NoError(t, decoded.Validate())
}

func TestColumn_MarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		col  Column
		want string
	}{
		{
			name: "text column has no options",
			col:  Column{ID: "c1", Name: "item", Type: DataTypeText},
			want: `{"id":"c1","name":"item","type":"text"}`,
		},
		{
			name: "select column keeps options",
			col:  Column{ID: "c2", Name: "size", Type: DataTypeSelect, Options: []string{"S", "M"}},
			want: `{"id":"c2","name":"size","type":"select","options":["S","M"]}`,
		},
		{
			name: "llm output column",
			col:  Column{ID: "o1", Name: "summary", Type: DataTypeText, Logic: "summarize", IsLLM: true},
			want: `{"id":"o1","name":"summary","type":"text","logic":"summarize","isLLM":true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(&tt.col)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestTestResult_MarshalJSON(t *testing.T) {
	expected := []CoercedRecord{{"total": float64(6)}}

	t.Run("empty actual is kept", func(t *testing.T) {
		data, err := json.Marshal(TestResult{Expected: expected, Actual: []CoercedRecord{}, Message: "Test failed."})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"actual":[]`)

		var decoded TestResult
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.NotNil(t, decoded.Actual)
		assert.Empty(t, decoded.Actual)
	})

	t.Run("nil actual is left out", func(t *testing.T) {
		data, err := json.Marshal(&TestResult{Expected: expected, Error: "boom", Message: "Error executing generated code: boom"})
		require.NoError(t, err)
		assert.NotContains(t, string(data), `"actual"`)

		var decoded TestResult
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Nil(t, decoded.Actual)
	})
}
