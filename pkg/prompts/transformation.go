package prompts

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/yunyaopan/pcd-workflowplus/pkg/models"
)

// ErrMissingSpecification is returned when the output table has no name or no columns.
var ErrMissingSpecification = errors.New("please define at least an output table name and one column")

// LLMColumnModel is the model generated code must request for LLM-generated columns.
const LLMColumnModel = "deepseek/deepseek-chat-v3.1:free"

// LLMErrorSentinel is the value generated code writes into an LLM column when the call fails.
const LLMErrorSentinel = "Error generating content"

// CheckSpecification verifies the output table is defined well enough to build a prompt.
func CheckSpecification(output *models.OutputTable) error {
	if strings.TrimSpace(output.Name) == "" || len(output.Columns) == 0 {
		return ErrMissingSpecification
	}
	return nil
}

// BuildTransformationPrompt creates the code-generation prompt for a snapshot.
// Sections are emitted in a fixed order: constraints, input tables, parameters,
// output table, then a closing restatement with a skeleton.
func BuildTransformationPrompt(s models.Snapshot) (string, error) {
	if err := CheckSpecification(&s.OutputTable); err != nil {
		return "", err
	}

	hasLLM := s.OutputTable.HasLLMColumns()
	var prompt strings.Builder

	writeConstraints(&prompt, hasLLM)
	writeInputTables(&prompt, s.InputTables)
	writeInputParams(&prompt, s.InputParams)
	writeOutputTable(&prompt, &s.OutputTable)
	writeClosing(&prompt, hasLLM)

	return prompt.String(), nil
}

func signature(hasLLM bool) string {
	if hasLLM {
		return "async function transformData({ inputTables, params }) { ... }"
	}
	return "function transformData({ inputTables, params }) { ... }"
}

func writeConstraints(b *strings.Builder, hasLLM bool) {
	b.WriteString("Generate a JavaScript function that transforms input data into output data based on the following specifications.\n\n")
	b.WriteString("CRITICAL REQUIREMENTS:\n")
	b.WriteString("- Generate ONLY pure JavaScript function code (ES6+), NO TypeScript\n")
	b.WriteString("- Do NOT use TypeScript types, interfaces, or type annotations\n")
	b.WriteString("- Do NOT wrap the code in markdown code blocks or backticks\n")
	b.WriteString("- Define exactly one top-level function\n")
	b.WriteString("- Include clear comments explaining the logic\n")
	b.WriteString("- Handle edge cases gracefully\n")
	b.WriteString("- The function name MUST be \"transformData\"\n")
	fmt.Fprintf(b, "- The function signature MUST be: %s\n", signature(hasLLM))
	b.WriteString("- Return an array of plain objects representing the output table\n")
	if hasLLM {
		b.WriteString("- For LLM columns, use the provided openRouterClient to generate values\n")
		b.WriteString("- The openRouterClient is available in scope; do not import or construct it\n")
		b.WriteString("- Use async/await for LLM column generation\n")
		b.WriteString("- Handle LLM API errors gracefully\n")
	} else {
		b.WriteString("- The function should be deterministic\n")
	}
	b.WriteString("\n")
}

func writeInputTables(b *strings.Builder, tables []models.InputTable) {
	if len(tables) == 0 {
		return
	}
	b.WriteString("INPUT DATA TABLES:\n")
	for _, table := range tables {
		fmt.Fprintf(b, "\n%s:\n", table.Name)
		b.WriteString("Columns:\n")
		for _, col := range table.Columns {
			fmt.Fprintf(b, "  - %s (%s)", col.Name, col.Type)
			if col.Options != nil {
				fmt.Fprintf(b, " [options: %s]", strings.Join(col.Options, ", "))
			}
			b.WriteString("\n")
		}
		if len(table.Rows) > 0 {
			b.WriteString("Example data:\n")
			writeRows(b, table.Rows, table.Columns)
		}
	}
}

func writeInputParams(b *strings.Builder, params []models.InputParam) {
	if len(params) == 0 {
		return
	}
	b.WriteString("\nINPUT PARAMETERS:\n")
	for _, p := range params {
		fmt.Fprintf(b, "  - %s (%s)", p.Name, p.Type)
		if p.Description != "" {
			fmt.Fprintf(b, ": %s", p.Description)
		}
		if p.Value != "" {
			fmt.Fprintf(b, " [Example value: %s]", p.Value)
		}
		b.WriteString("\n")
	}
}

func writeOutputTable(b *strings.Builder, output *models.OutputTable) {
	fmt.Fprintf(b, "\nOUTPUT TABLE: %s\n", output.Name)
	if output.BaseLogic != "" {
		fmt.Fprintf(b, "\nBase Logic (what rows should be in output):\n%s\n", output.BaseLogic)
	}

	b.WriteString("\nOutput Columns:\n")
	for _, col := range output.Columns {
		tag := ""
		if col.IsLLM {
			tag = " [LLM-GENERATED]"
		}
		fmt.Fprintf(b, "\n%s (%s)%s:\n", col.Name, col.Type, tag)
		if col.Options != nil {
			fmt.Fprintf(b, "  Options: %s\n", strings.Join(col.Options, ", "))
		}
		if col.Logic != "" {
			fmt.Fprintf(b, "  Logic: %s\n", col.Logic)
		}
	}

	if len(output.Rows) > 0 {
		b.WriteString("\nExpected output example data:\n")
		writeRows(b, output.Rows, output.Columns)
	}
}

func writeClosing(b *strings.Builder, hasLLM bool) {
	b.WriteString("\n\nGenerate a pure JavaScript function named \"transformData\" that:\n")
	b.WriteString("- Accepts a single parameter: an object with { inputTables, params }\n")
	b.WriteString("- inputTables is an object where keys are table names and values are arrays of objects\n")
	b.WriteString("- params is an object where keys are parameter names and values are the parameter values\n")
	b.WriteString("- Returns an array of objects representing the output table, keyed by output column name\n")
	b.WriteString("- Uses NO TypeScript syntax - pure JavaScript only\n")
	b.WriteString("- Is NOT wrapped in markdown code fences\n")
	b.WriteString("- Matches the expected output data as closely as possible\n")
	if hasLLM {
		fmt.Fprintf(b, "- For LLM columns, use: await openRouterClient.generateCode(prompt, '%s')\n", LLMColumnModel)
		b.WriteString("- Handle LLM errors gracefully with try-catch blocks\n")
	}

	b.WriteString("\nEXAMPLE STRUCTURE:\n")
	if hasLLM {
		b.WriteString("async ")
	}
	b.WriteString("function transformData({ inputTables, params }) {\n")
	b.WriteString("  const output = [];\n\n")
	b.WriteString("  for (const row of inputTables['TableName'] || []) {\n")
	b.WriteString("    const outputRow = {};\n\n")
	b.WriteString("    // Deterministic columns\n")
	b.WriteString("    outputRow.deterministicColumn = /* your logic */;\n")
	if hasLLM {
		b.WriteString("\n    // LLM columns\n")
		b.WriteString("    try {\n")
		b.WriteString("      const llmPrompt = `Your prompt here using row data: ${row.someField}`;\n")
		fmt.Fprintf(b, "      outputRow.llmColumn = await openRouterClient.generateCode(llmPrompt, '%s');\n", LLMColumnModel)
		b.WriteString("    } catch (error) {\n")
		fmt.Fprintf(b, "      outputRow.llmColumn = '%s';\n", LLMErrorSentinel)
		b.WriteString("    }\n")
	}
	b.WriteString("\n    output.push(outputRow);\n")
	b.WriteString("  }\n\n")
	b.WriteString("  return output;\n")
	b.WriteString("}")
}

func writeRows(b *strings.Builder, rows []models.Row, columns []models.Column) {
	for i, row := range rows {
		pairs := make([]string, 0, len(columns))
		for _, col := range columns {
			pairs = append(pairs, fmt.Sprintf("%s=%s", col.Name, formatCell(row[string(col.ID)])))
		}
		fmt.Fprintf(b, "  Row %d: %s\n", i+1, strings.Join(pairs, ", "))
	}
}

// formatCell renders a raw cell the way it was entered.
func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
