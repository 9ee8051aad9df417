// Package ddl builds the DDL statements for the tables backing a model.
package ddl

import (
	"fmt"
	"strings"
)

// ColumnDef describes a column for CREATE TABLE.
type ColumnDef struct {
	Name       string
	Type       string
	PrimaryKey bool
}

// CreateTable returns a DDL statement:
// CREATE TABLE "<table>" ("<col1>" TYPE1, "<col2>" TYPE2, ..., PRIMARY KEY (...)).
func CreateTable(table string, columns []ColumnDef) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("at least one column is required")
	}

	var colDefs, keys []string
	for _, c := range columns {
		if err := ValidateIdentifier(c.Name); err != nil {
			return "", fmt.Errorf("invalid column name %q: %w", c.Name, err)
		}
		if err := ValidateColumnType(c.Type); err != nil {
			return "", fmt.Errorf("invalid column type for %q: %w", c.Name, err)
		}
		colDefs = append(colDefs, fmt.Sprintf("%s %s", QuoteIdentifier(c.Name), c.Type))
		if c.PrimaryKey {
			keys = append(keys, QuoteIdentifier(c.Name))
		}
	}
	if len(keys) > 0 {
		colDefs = append(colDefs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(keys, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", QuoteIdentifier(table), strings.Join(colDefs, ", ")), nil
}

// DropTable returns a DDL statement: DROP TABLE IF EXISTS "<table>".
func DropTable(table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s", QuoteIdentifier(table)), nil
}
