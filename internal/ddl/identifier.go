package ddl

import (
	"fmt"
	"regexp"
	"strings"
)

var identifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// columnTypeRe accepts the type names the dialects emit: one or more words,
// an optional precision or precision and scale, and an optional array
// suffix. "DOUBLE PRECISION", "VARCHAR(255)" and "DECIMAL(18, 4)[]" pass.
var columnTypeRe = regexp.MustCompile(`(?i)^[A-Z][A-Z0-9_ ]*(?:\(\s*\d+\s*(?:,\s*\d+\s*)?\))?(?:\[\])?$`)

const (
	// MaxIdentifierLength bounds entity, interface, table and column names.
	MaxIdentifierLength = 128
	maxColumnTypeLength = 64
)

// ValidateIdentifier reports whether name can be used unquoted as an entity
// or interface name and quoted as a table or column name.
func ValidateIdentifier(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("identifier is required")
	case len(name) > MaxIdentifierLength:
		return fmt.Errorf("identifier %q exceeds %d characters", name, MaxIdentifierLength)
	case !identifierRe.MatchString(name):
		return fmt.Errorf("identifier %q must match [a-zA-Z_][a-zA-Z0-9_]*", name)
	}
	return nil
}

// QuoteIdentifier double-quotes name, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteLiteral single-quotes a string literal, doubling embedded quotes.
func QuoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// ValidateColumnType checks a dialect column type before it is spliced into
// a CREATE TABLE statement.
func ValidateColumnType(typeName string) error {
	switch {
	case typeName == "":
		return fmt.Errorf("column type is required")
	case len(typeName) > maxColumnTypeLength:
		return fmt.Errorf("column type exceeds %d characters", maxColumnTypeLength)
	case strings.ContainsAny(typeName, ";-'\"\\"):
		return fmt.Errorf("column type %q contains invalid characters", typeName)
	case !columnTypeRe.MatchString(typeName):
		return fmt.Errorf("column type %q is not a recognized type", typeName)
	}
	return nil
}
