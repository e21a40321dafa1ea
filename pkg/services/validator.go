package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
	"github.com/yunyaopan/pcd-workflowplus/pkg/prompts"
	"github.com/yunyaopan/pcd-workflowplus/pkg/sandbox"
)

const (
	testPassedMessage = "Test passed! Generated code produces expected output."
	execErrorPrefix   = "Error executing generated code: "
	notArrayMessage   = "generated code did not return an array"
)

// PreconditionError is returned when a test cannot be attempted at all.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// CodeRunner executes generated code. *sandbox.Executor implements it.
type CodeRunner interface {
	Run(ctx context.Context, p sandbox.Program) (any, error)
}

// TransformationTester validates generated code against a transformation's
// expected output rows.
type TransformationTester interface {
	// TestGeneratedCode runs code once against the coerced example inputs.
	// Only precondition violations are returned as errors; every other
	// failure is reported through the TestResult.
	TestGeneratedCode(ctx context.Context, code string, snapshot models.Snapshot) (*models.TestResult, error)
}

type transformationTester struct {
	runner     CodeRunner
	codeClient sandbox.CodeClient
	logger     *zap.Logger
}

// NewTransformationTester creates a tester. codeClient is injected into
// programs whose output table has LLM-generated columns; it may be nil.
func NewTransformationTester(runner CodeRunner, codeClient sandbox.CodeClient, logger *zap.Logger) TransformationTester {
	return &transformationTester{
		runner:     runner,
		codeClient: codeClient,
		logger:     logger.Named("transformation-tester"),
	}
}

var _ TransformationTester = (*transformationTester)(nil)

func (t *transformationTester) TestGeneratedCode(ctx context.Context, code string, snapshot models.Snapshot) (*models.TestResult, error) {
	if strings.TrimSpace(code) == "" {
		return nil, &PreconditionError{Reason: "no generated code to test"}
	}
	output := &snapshot.OutputTable
	if len(output.Rows) == 0 {
		return nil, &PreconditionError{Reason: "please add expected output rows to test against"}
	}

	expected, err := models.CoerceRows(output.Rows, output.Columns)
	if err != nil {
		return invalidDataResult(nil, fmt.Errorf("expected output: %w", err)), nil
	}
	inputTables, err := models.CoerceInputTables(snapshot.InputTables)
	if err != nil {
		return invalidDataResult(expected, err), nil
	}
	params, err := models.CoerceParams(snapshot.InputParams)
	if err != nil {
		return invalidDataResult(expected, err), nil
	}

	program := sandbox.Program{
		Code:        code,
		InputTables: inputTables,
		Params:      params,
	}
	if output.HasLLMColumns() && t.codeClient != nil {
		program.CodeClient = t.codeClient
	}

	value, err := t.runner.Run(ctx, program)
	if err != nil {
		t.logger.Info("Generated code failed to execute", zap.Error(err))
		return failedResult(expected, err.Error()), nil
	}

	items, ok := value.([]any)
	if !ok {
		return &models.TestResult{
			Success:  false,
			Expected: expected,
			Error:    notArrayMessage,
			Message:  "Test failed. " + notArrayMessage,
		}, nil
	}

	actual := make([]models.CoercedRecord, len(items))
	for i, item := range items {
		if rec, ok := normalizeNumbers(item).(map[string]any); ok {
			actual[i] = models.CoercedRecord(rec)
		}
	}

	result := &models.TestResult{
		Expected: expected,
		Actual:   actual,
	}
	if detail, ok := compareOutput(expected, actual, output.Columns); ok {
		result.Success = true
		result.Message = testPassedMessage
	} else {
		result.Message = "Test failed. " + detail
	}
	return result, nil
}

func failedResult(expected []models.CoercedRecord, msg string) *models.TestResult {
	return &models.TestResult{
		Success:  false,
		Expected: expected,
		Error:    msg,
		Message:  execErrorPrefix + msg,
	}
}

// invalidDataResult reports example data that cannot be coerced to its declared types.
func invalidDataResult(expected []models.CoercedRecord, err error) *models.TestResult {
	if expected == nil {
		expected = []models.CoercedRecord{}
	}
	return &models.TestResult{
		Success:  false,
		Expected: expected,
		Error:    err.Error(),
		Message:  "Invalid example data: " + err.Error(),
	}
}

// compareOutput checks actual against expected in column order and stops at
// the first mismatch, returning its description.
func compareOutput(expected, actual []models.CoercedRecord, columns []models.Column) (string, bool) {
	if len(actual) != len(expected) {
		return fmt.Sprintf("Row count mismatch: expected %d, got %d", len(expected), len(actual)), false
	}
	for i := range actual {
		for _, col := range columns {
			actualValue := actual[i][col.Name]
			if col.IsLLM {
				if !truthy(actualValue) || actualValue == prompts.LLMErrorSentinel {
					return fmt.Sprintf("LLM column '%s' in row %d is empty or errored", col.Name, i+1), false
				}
				continue
			}
			expectedValue := expected[i][col.Name]
			if !strictEqual(expectedValue, actualValue) {
				return fmt.Sprintf("Column '%s' in row %d: expected '%s', got '%s'",
					col.Name, i+1, jsString(expectedValue), jsString(actualValue)), false
			}
		}
	}
	return "", true
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// normalizeNumbers rewrites every number exported from the sandbox as float64,
// the type a JSON round trip produces, so stored and fresh results compare equal.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeNumbers(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeNumbers(item)
		}
		return out
	}
	if n, ok := toNumber(v); ok {
		return n
	}
	return v
}

// strictEqual follows JavaScript ===: no conversion between kinds, numbers
// compared by value regardless of integer or float representation, NaN never
// equal. Missing values and nil both stand for undefined.
func strictEqual(a, b any) bool {
	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	// objects and arrays compare by identity, which never holds across the sandbox boundary
	return false
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	}
	if n, ok := toNumber(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	return true
}

// jsString renders a value the way a JavaScript template literal would.
func jsString(v any) string {
	switch val := v.(type) {
	case nil:
		return "undefined"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			if item != nil {
				parts[i] = jsString(item)
			}
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return "[object Object]"
	}
	if n, ok := toNumber(v); ok {
		switch {
		case math.IsNaN(n):
			return "NaN"
		case math.IsInf(n, 1):
			return "Infinity"
		case math.IsInf(n, -1):
			return "-Infinity"
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
