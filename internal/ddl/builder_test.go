package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTable(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		columns []ColumnDef
		want    string
		wantErr string
	}{
		{
			name:    "single_column",
			table:   "Orders",
			columns: []ColumnDef{{Name: "Id", Type: "BIGINT"}},
			want:    `CREATE TABLE "Orders" ("Id" BIGINT)`,
		},
		{
			name:  "primary_key",
			table: "Orders",
			columns: []ColumnDef{
				{Name: "Id", Type: "BIGINT", PrimaryKey: true},
				{Name: "Status", Type: "VARCHAR(255)"},
				{Name: "Amount", Type: "DOUBLE PRECISION"},
			},
			want: `CREATE TABLE "Orders" ("Id" BIGINT, "Status" VARCHAR(255), "Amount" DOUBLE PRECISION, PRIMARY KEY ("Id"))`,
		},
		{
			name:    "composite_key",
			table:   "Lines",
			columns: []ColumnDef{{Name: "OrderId", Type: "INTEGER", PrimaryKey: true}, {Name: "LineNo", Type: "INTEGER", PrimaryKey: true}},
			want:    `CREATE TABLE "Lines" ("OrderId" INTEGER, "LineNo" INTEGER, PRIMARY KEY ("OrderId", "LineNo"))`,
		},
		{
			name:    "empty_table",
			table:   "",
			columns: []ColumnDef{{Name: "id", Type: "INTEGER"}},
			wantErr: "invalid table name",
		},
		{
			name:    "no_columns",
			table:   "events",
			wantErr: "at least one column is required",
		},
		{
			name:    "invalid_column_name",
			table:   "events",
			columns: []ColumnDef{{Name: "my-col", Type: "INTEGER"}},
			wantErr: "invalid column name",
		},
		{
			name:    "sql_injection_in_type",
			table:   "events",
			columns: []ColumnDef{{Name: "id", Type: "INTEGER); DROP TABLE foo; --"}},
			wantErr: "invalid column type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CreateTable(tt.table, tt.columns)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDropTable(t *testing.T) {
	got, err := DropTable("Orders")
	require.NoError(t, err)
	assert.Equal(t, `DROP TABLE IF EXISTS "Orders"`, got)

	_, err = DropTable("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid table name")
}
