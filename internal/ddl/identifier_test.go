package ddl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		input   string
		wantErr string
	}{
		{input: "Orders"},
		{input: "_shadow"},
		{input: "customer_name"},
		{input: "ISoftDelete"},
		{input: "Line2"},
		{input: strings.Repeat("x", MaxIdentifierLength)},

		{input: "", wantErr: "required"},
		{input: strings.Repeat("x", MaxIdentifierLength+1), wantErr: "exceeds 128"},
		{input: "2Lines", wantErr: "must match"},
		{input: "order lines", wantErr: "must match"},
		{input: "dbo.Orders", wantErr: "must match"},
		{input: "dfp-1", wantErr: "must match"},
		{input: `Or"ders`, wantErr: "must match"},
		{input: "Orders; DROP TABLE Orders", wantErr: "must match"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateIdentifier(tt.input)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `"Orders"`, QuoteIdentifier("Orders"))
	assert.Equal(t, `"a""b"`, QuoteIdentifier(`a"b`))
	assert.Equal(t, `""`, QuoteIdentifier(""))
	assert.Equal(t, `'o''neil'`, QuoteLiteral("o'neil"))
	assert.Equal(t, `'C:\tmp'`, QuoteLiteral(`C:\tmp`))
	assert.Equal(t, `''`, QuoteLiteral(""))
}

func TestValidateColumnType(t *testing.T) {
	valid := []string{
		"INTEGER", "REAL", "TEXT", "BLOB", "BOOLEAN", "TIMESTAMP",
		"UBIGINT", "UUID", "VARCHAR(255)", "DECIMAL(18, 4)", "INTEGER[]",
		"double precision", "timestamptz", "bytea",
	}
	for _, typ := range valid {
		assert.NoError(t, ValidateColumnType(typ), typ)
	}

	tests := []struct {
		input   string
		wantErr string
	}{
		{"", "required"},
		{strings.Repeat("T", 65), "exceeds 64"},
		{"INTEGER); DROP TABLE Orders; --", "invalid characters"},
		{"TEXT'", "invalid characters"},
		{`TEXT"`, "invalid characters"},
		{"INTEGER -- note", "invalid characters"},
		{"8BYTE", "not a recognized type"},
		{"DECIMAL((10))", "not a recognized type"},
		{"()", "not a recognized type"},
	}
	for _, tt := range tests {
		err := ValidateColumnType(tt.input)
		require.Error(t, err, tt.input)
		assert.Contains(t, err.Error(), tt.wantErr)
	}
}
