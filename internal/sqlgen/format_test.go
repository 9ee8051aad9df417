package sqlgen

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynfilter/internal/testutil"
	"dynfilter/plan"
)

var (
	tInt64  = plan.Type{Kind: plan.KindInt64}
	tString = plan.Type{Kind: plan.KindString}
	tBool   = plan.Type{Kind: plan.KindBool}
)

func orders(binding string) *plan.Scan {
	return &plan.Scan{Table: "Orders", Binding: binding, Columns: []plan.Column{
		{Name: "Id", Type: tInt64},
		{Name: "Status", Type: tString},
	}}
}

func lines(binding string) *plan.Scan {
	return &plan.Scan{Table: "OrderLines", Binding: binding, Columns: []plan.Column{
		{Name: "Id", Type: tInt64},
		{Name: "OrderId", Type: tInt64},
	}}
}

func col(binding, name string, t plan.Type) *plan.ColumnRef {
	return &plan.ColumnRef{Binding: binding, Column: name, Type: t}
}

func project(in plan.Rel, refs ...*plan.ColumnRef) *plan.Tree {
	p := &plan.Project{Input: in}
	for i, r := range refs {
		p.Columns = append(p.Columns, plan.ProjectColumn{Name: "c" + string(rune('0'+i)), Expr: r})
	}
	return &plan.Tree{Root: p}
}

func TestFormat_SelectBlock(t *testing.T) {
	scan := orders("t0")
	status := &plan.Param{Name: "dfp_1", Type: tString}
	rel := &plan.Limit{Count: 5, Input: &plan.Sort{
		Keys: []plan.SortKey{{Expr: col("t0", "Id", tInt64), Desc: true}},
		Input: &plan.Filter{Input: scan, Predicate: &plan.Logical{Op: plan.OpOr, Args: []plan.Expr{
			&plan.Comparison{Op: plan.OpEq, Left: col("t0", "Status", tString), Right: status},
			&plan.IsNull{Expr: status},
		}}},
	}}

	cmd, err := Format(project(rel, col("t0", "Id", tInt64)), SQLite{})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t0"."Id" AS "c0" FROM "Orders" AS "t0" WHERE (("t0"."Status" = @dfp_1) OR (@dfp_1 IS NULL)) ORDER BY "t0"."Id" DESC LIMIT 5`,
		cmd.Text)
	require.Len(t, cmd.Params, 1, "a parameter used twice is listed once")
	assert.Equal(t, Parameter{Name: "dfp_1", Placeholder: "@dfp_1", Type: tString}, cmd.Params[0])
}

func TestFormat_StackedFiltersAndNot(t *testing.T) {
	scan := orders("t0")
	inner := &plan.Filter{Input: scan, Predicate: &plan.Not{Expr: &plan.IsNull{Expr: col("t0", "Status", tString)}}}
	outer := &plan.Filter{Input: inner, Predicate: &plan.Comparison{Op: plan.OpGt, Left: col("t0", "Id", tInt64), Right: &plan.Constant{Value: int64(3), Type: tInt64}}}

	cmd, err := Format(project(outer, col("t0", "Id", tInt64)), SQLite{})
	require.NoError(t, err)
	assert.Contains(t, cmd.Text, `WHERE ((NOT ("t0"."Status" IS NULL)) AND ("t0"."Id" > 3))`)
}

func TestFormat_JoinsAndDerivedTables(t *testing.T) {
	o, l := orders("t0"), lines("t1")
	on := &plan.Comparison{Op: plan.OpEq, Left: col("t0", "Id", tInt64), Right: col("t1", "OrderId", tInt64)}

	t.Run("plain", func(t *testing.T) {
		j := &plan.Join{Kind: plan.LeftJoin, Left: o, Right: l, Condition: on}
		cmd, err := Format(project(j, col("t0", "Id", tInt64), col("t1", "Id", tInt64)), SQLite{})
		require.NoError(t, err)
		assert.Equal(t,
			`SELECT "t0"."Id" AS "c0", "t1"."Id" AS "c1" FROM "Orders" AS "t0" LEFT JOIN "OrderLines" AS "t1" ON ("t0"."Id" = "t1"."OrderId")`,
			cmd.Text)
	})

	t.Run("filtered right", func(t *testing.T) {
		right := &plan.Filter{Input: l, Predicate: &plan.Comparison{Op: plan.OpNe, Left: col("t1", "Id", tInt64), Right: &plan.Constant{Value: int64(2), Type: tInt64}}}
		j := &plan.Join{Kind: plan.LeftJoin, Left: o, Right: right, Condition: on}
		cmd, err := Format(project(j, col("t1", "Id", tInt64)), SQLite{})
		require.NoError(t, err)
		assert.Contains(t, cmd.Text,
			`LEFT JOIN (SELECT "t1"."Id", "t1"."OrderId" FROM "OrderLines" AS "t1" WHERE ("t1"."Id" <> 2)) AS "t1" ON`)
	})

	t.Run("nested left", func(t *testing.T) {
		inner := &plan.Join{Kind: plan.InnerJoin, Left: o, Right: lines("t2"), Condition: on}
		j := &plan.Join{Kind: plan.LeftJoin, Left: inner, Right: l, Condition: on}
		cmd, err := Format(project(j, col("t0", "Id", tInt64)), SQLite{})
		require.NoError(t, err)
		assert.Contains(t, cmd.Text, `FROM ("Orders" AS "t0" JOIN "OrderLines" AS "t2" ON`)
	})

	t.Run("lateral", func(t *testing.T) {
		right := &plan.Limit{Count: 1, Input: &plan.Filter{Input: l, Predicate: on}}
		j := &plan.Join{Kind: plan.LeftLateralJoin, Left: o, Right: right}
		cmd, err := Format(project(j, col("t1", "Id", tInt64)), DuckDB{})
		require.NoError(t, err)
		assert.Contains(t, cmd.Text,
			`LEFT JOIN LATERAL (SELECT "t1"."Id", "t1"."OrderId" FROM "OrderLines" AS "t1" WHERE ("t0"."Id" = "t1"."OrderId") LIMIT 1) AS "t1" ON TRUE`)
	})
}

func TestFormat_Like(t *testing.T) {
	name := &plan.Param{Name: "p", Type: tString}
	x := col("t0", "Status", tString)
	tests := []struct {
		mode plan.LikeMode
		d    Dialect
		want string
	}{
		{plan.LikePrefix, SQLite{}, `(substr("t0"."Status", 1, length(@p)) = @p)`},
		{plan.LikeSuffix, SQLite{}, `(length("t0"."Status") >= length(@p) AND substr("t0"."Status", length("t0"."Status") - length(@p) + 1) = @p)`},
		{plan.LikeSubstring, SQLite{}, `(instr("t0"."Status", @p) > 0)`},
		{plan.LikeSubstring, Postgres{}, `(strpos("t0"."Status", CAST(@p AS text)) > 0)`},
	}
	for _, tt := range tests {
		got, err := FormatExpr(&plan.Like{Expr: x, Pattern: name, Mode: tt.mode}, tt.d)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestFormat_Errors(t *testing.T) {
	_, err := Format(&plan.Tree{}, SQLite{})
	assert.Error(t, err)

	_, err = FormatExpr(&plan.Constant{Value: struct{}{}, Type: tInt64}, SQLite{})
	assert.Error(t, err)
}

func TestDialect_Placeholders(t *testing.T) {
	assert.Equal(t, "@a", SQLite{}.Placeholder("a", tBool))
	assert.Equal(t, "CAST($a AS BOOLEAN)", DuckDB{}.Placeholder("a", tBool))
	assert.Equal(t, "CAST(@a AS bigint)", Postgres{}.Placeholder("a", tInt64))
}

func TestDialect_Literals(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	id := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	s := "o'neil"
	tests := []struct {
		name string
		d    Dialect
		v    any
		want string
	}{
		{"sqlite bool", SQLite{}, true, "1"},
		{"duckdb bool", DuckDB{}, false, "FALSE"},
		{"string quote", SQLite{}, "o'neil", "'o''neil'"},
		{"pointer", Postgres{}, &s, "'o''neil'"},
		{"nil pointer", DuckDB{}, (*string)(nil), "NULL"},
		{"uint", SQLite{}, uint16(7), "7"},
		{"float", SQLite{}, 2.5, "2.5"},
		{"sqlite time", SQLite{}, ts, "'2024-03-01 12:30:00+00:00'"},
		{"duckdb time", DuckDB{}, ts, "TIMESTAMP '2024-03-01 12:30:00'"},
		{"postgres uuid", Postgres{}, id, "'7c9e6679-7425-40de-944b-e07fc1f90ae7'::uuid"},
		{"sqlite blob", SQLite{}, []byte{0xca, 0xfe}, "X'cafe'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.d.Literal(tt.v, plan.Type{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialect_Args(t *testing.T) {
	values := []Value{{Name: "a", Value: 1}, {Name: "b", Value: nil}}
	assert.Equal(t, []any{sql.Named("a", 1), sql.Named("b", nil)}, SQLite{}.Args(values))
	assert.Equal(t, []any{pgx.NamedArgs{"a": 1, "b": nil}}, Postgres{}.Args(values))
}

func TestDialectByName(t *testing.T) {
	for name, want := range map[string]string{"": "sqlite", "SQLite3": "sqlite", "duckdb": "duckdb", "pgx": "postgres"} {
		d, err := DialectByName(name)
		require.NoError(t, err)
		assert.Equal(t, want, d.Name())
	}
	_, err := DialectByName("oracle")
	assert.Error(t, err)

	d := WithCapabilities(SQLite{}, Capabilities{FirstRowReduction: true})
	assert.True(t, d.Capabilities().FirstRowReduction)
	assert.Equal(t, "sqlite", d.Name())
	assert.Equal(t, "()", d.EmptySet())
}

func TestCreateTables(t *testing.T) {
	stmts, err := CreateTables(testutil.ShopModel(), SQLite{})
	require.NoError(t, err)
	require.Len(t, stmts, 6)
	assert.Equal(t,
		`CREATE TABLE "Customers" ("Id" INTEGER, "customer_name" TEXT, "IsActive" BOOLEAN, "TenantID" INTEGER, PRIMARY KEY ("Id"))`,
		stmts[0])
	assert.Equal(t,
		`CREATE TABLE "Employees" ("Id" INTEGER, "Salary" REAL, "Department" TEXT, PRIMARY KEY ("Id"))`,
		stmts[4])

	stmts, err = CreateTables(testutil.ShopModel(), Postgres{})
	require.NoError(t, err)
	assert.Contains(t, stmts[1], `"ShippedAt" timestamptz`)
}

func TestDropTables(t *testing.T) {
	stmts, err := DropTables(testutil.ShopModel())
	require.NoError(t, err)
	require.Len(t, stmts, 6)
	assert.Equal(t, `DROP TABLE IF EXISTS "Departments"`, stmts[0])
	assert.Equal(t, `DROP TABLE IF EXISTS "Employees"`, stmts[1])
	assert.Equal(t, `DROP TABLE IF EXISTS "Customers"`, stmts[5])
}
