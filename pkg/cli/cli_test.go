package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynfilter/engine"
	"dynfilter/internal/db"
	"dynfilter/internal/domain"
	"dynfilter/internal/sqlgen"
	"dynfilter/model"
)

const testModel = `
entities:
  - name: Customer
    table: Customers
    properties:
      - {name: Id, type: int64, key: true}
      - {name: Name, type: string}
      - {name: IsActive, type: bool}
      - {name: Region, type: string}
    navigations:
      - {name: Orders, target: Order, many: true, fk: {Id: CustomerId}}
  - name: Order
    table: Orders
    properties:
      - {name: Id, type: int64, key: true}
      - {name: CustomerId, type: int64}
      - {name: Total, type: float64}
`

const testFilters = `
version: 1
filters:
  - name: Active
    owner: Customer
    predicate:
      entity: Customer
      params:
        - {name: isActive, type: bool}
      body:
        kind: binary
        op: "=="
        args:
          - {kind: member, name: IsActive}
          - {kind: param, name: isActive}
  - name: Region
    owner: Customer
    column: Region
`

// fixture writes the model and filter documents to a temp dir and clears
// the environment the root command reads.
type fixture struct {
	dir     string
	model   string
	filters string
	envFile string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	for _, key := range []string{
		"DYNFILTER_DIALECT", "DYNFILTER_DSN", "DYNFILTER_PARAM_PREFIX",
		"DYNFILTER_PREFER_CONCEPTUAL", "DYNFILTER_LATERAL_JOINS", "DYNFILTER_MODEL_CACHE", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	f := &fixture{
		dir:     dir,
		model:   filepath.Join(dir, "model.yaml"),
		filters: filepath.Join(dir, "filters.yaml"),
		envFile: filepath.Join(dir, ".env"),
	}
	require.NoError(t, os.WriteFile(f.model, []byte(testModel), 0o644))
	require.NoError(t, os.WriteFile(f.filters, []byte(testFilters), 0o644))
	return f
}

// run executes the root command with args and returns its stdout.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&globals{})
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--env-file", f.envFile}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (f *fixture) explain(t *testing.T, args ...string) commandView {
	t.Helper()
	out, err := f.run(t, append([]string{"explain", "-o", "json", "--model", f.model, "--filters", f.filters}, args...)...)
	require.NoError(t, err)
	var view commandView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	return view
}

func findParam(view commandView, filterName, param string) (parameterView, bool) {
	for _, p := range view.Parameters {
		if p.Filter == filterName && p.Param == param {
			return p, true
		}
	}
	return parameterView{}, false
}

func TestVersionCmd_JSON(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "version", "-o", "json")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "dev", got["version"])
	assert.Contains(t, got, "commit")
}

func TestVersionCmd_Table(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "version", "-o", "table")
	require.NoError(t, err)
	assert.Equal(t, "dynfilter version dev (commit: none)\n", out)
}

func TestRootCmd_RejectsOutputFormat(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "version", "-o", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestExplainCmd_JSON(t *testing.T) {
	f := newFixture(t)
	view := f.explain(t, "--entity", "Customer")

	assert.Equal(t, "sqlite", view.Dialect)
	assert.Contains(t, view.SQL, `FROM "Customers"`)
	assert.Contains(t, view.SQL, "WHERE")

	active, ok := findParam(view, "Active", "isActive")
	require.True(t, ok, "missing Active.isActive in %+v", view.Parameters)
	assert.Equal(t, "@"+active.Name, active.Placeholder)
	assert.Contains(t, active.Name, "dfp_")
	_, ok = findParam(view, "Region", "Region")
	assert.True(t, ok)
}

func TestExplainCmd_Flags(t *testing.T) {
	f := newFixture(t)

	t.Run("dialect", func(t *testing.T) {
		view := f.explain(t, "--entity", "Customer", "--dialect", "duckdb")
		assert.Equal(t, "duckdb", view.Dialect)
	})

	t.Run("include and order", func(t *testing.T) {
		view := f.explain(t, "--entity", "Customer", "--include", "Orders", "--order-by", "Name:desc", "--take", "3")
		assert.Contains(t, view.SQL, `"Orders"`)
		assert.Contains(t, view.SQL, "DESC")
		assert.Contains(t, view.SQL, "3")
	})

	t.Run("bad order direction", func(t *testing.T) {
		_, err := f.run(t, "explain", "--model", f.model, "--entity", "Customer", "--order-by", "Name:sideways")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "asc or desc")
	})

	t.Run("without filters file", func(t *testing.T) {
		out, err := f.run(t, "explain", "-o", "json", "--model", f.model, "--entity", "Customer")
		require.NoError(t, err)
		var view commandView
		require.NoError(t, json.Unmarshal([]byte(out), &view))
		assert.Empty(t, view.Parameters)
		assert.NotContains(t, view.SQL, "WHERE")
	})
}

func TestExplainCmd_Table(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "explain", "-o", "table", "--model", f.model, "--filters", f.filters, "--entity", "Customer")
	require.NoError(t, err)
	assert.Contains(t, out, "-- sqlite\n")
	assert.Contains(t, out, "PLACEHOLDER")
	assert.Contains(t, out, "isActive")
}

func TestExplainCmd_EnvFile(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(f.envFile, []byte("DYNFILTER_DIALECT=postgres\nDYNFILTER_PARAM_PREFIX=flt\n"), 0o644))

	view := f.explain(t, "--entity", "Customer")
	assert.Equal(t, "postgres", view.Dialect)
	active, ok := findParam(view, "Active", "isActive")
	require.True(t, ok)
	assert.Contains(t, active.Name, "flt_")
}

func TestExplainCmd_UnknownEntity(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "explain", "--model", f.model, "--entity", "Invoice")
	require.Error(t, err)
	assert.Equal(t, "not_found", errorKind(err))
}

func TestCacheCmd(t *testing.T) {
	f := newFixture(t)

	t.Run("msgpack cache loads through the environment", func(t *testing.T) {
		cache := filepath.Join(f.dir, "filters.cache")
		out, err := f.run(t, "cache", "-o", "json", "--model", f.model, "--filters", f.filters, "--out", cache)
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.InDelta(t, 2, got["filters"], 0)

		t.Setenv("DYNFILTER_MODEL_CACHE", cache)
		out, err = f.run(t, "explain", "-o", "json", "--model", f.model, "--entity", "Customer")
		require.NoError(t, err)
		var view commandView
		require.NoError(t, json.Unmarshal([]byte(out), &view))
		_, ok := findParam(view, "Active", "isActive")
		assert.True(t, ok)
	})

	t.Run("yaml export reloads", func(t *testing.T) {
		exported := filepath.Join(f.dir, "exported.yaml")
		_, err := f.run(t, "cache", "--model", f.model, "--filters", f.filters, "--out", exported, "--format", "yaml")
		require.NoError(t, err)

		m, err := model.LoadYAMLFile(f.model)
		require.NoError(t, err)
		e, err := engine.New(nil, m)
		require.NoError(t, err)
		data, err := os.ReadFile(exported)
		require.NoError(t, err)
		require.NoError(t, e.LoadFilters(data))
		assert.Len(t, e.Filters(), 2)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := f.run(t, "cache", "--model", f.model, "--out", filepath.Join(f.dir, "x"), "--format", "toml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported cache format")
	})
}

func TestSchemaPrintCmd(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "schema", "print", "-o", "table", "--model", f.model)
	require.NoError(t, err)

	m, err := model.LoadYAMLFile(f.model)
	require.NoError(t, err)
	stmts, err := sqlgen.CreateTables(m, sqlgen.SQLite{})
	require.NoError(t, err)
	want := ""
	for _, s := range stmts {
		want += s + ";\n"
	}
	assert.Equal(t, want, out)
}

func TestSchemaAndQueryCmd(t *testing.T) {
	f := newFixture(t)
	dsn := filepath.Join(f.dir, "shop.db")

	_, err := f.run(t, "schema", "create", "--model", f.model, "--dsn", dsn)
	require.NoError(t, err)

	conn, err := db.Open("sqlite", dsn)
	require.NoError(t, err)
	for i, c := range []struct {
		name   string
		active bool
		region string
	}{{"Ann", true, "EU"}, {"Bo", false, "EU"}, {"Cy", true, "US"}} {
		_, err := conn.Exec(`INSERT INTO "Customers" ("Id", "Name", "IsActive", "Region") VALUES (?, ?, ?, ?)`,
			i+1, c.name, c.active, c.region)
		require.NoError(t, err)
	}
	require.NoError(t, conn.Close())

	names := func(t *testing.T, args ...string) []string {
		t.Helper()
		base := []string{"query", "-o", "json", "--model", f.model, "--filters", f.filters, "--dsn", dsn, "--entity", "Customer", "--order-by", "Id"}
		out, err := f.run(t, append(base, args...)...)
		require.NoError(t, err)
		var records []*engine.Record
		require.NoError(t, json.Unmarshal([]byte(out), &records))
		got := make([]string, 0, len(records))
		for _, r := range records {
			got = append(got, fmt.Sprint(r.Fields["Name"]))
		}
		return got
	}

	assert.Equal(t, []string{"Ann", "Cy"}, names(t, "--set", "Active=true", "--disable", "Region"))
	assert.Equal(t, []string{"Ann"}, names(t, "--set", "Active:isActive=true", "--set", "Region=EU"))
	assert.Equal(t, []string{"Ann", "Bo", "Cy"}, names(t, "--without-filters"))
	assert.Equal(t, []string{"Bo"}, names(t, "--set", "Active=false", "--disable", "Region"))

	out, err := f.run(t, "query", "-o", "table", "--model", f.model, "--filters", f.filters, "--dsn", dsn,
		"--entity", "Customer", "--without-filters", "--take", "1", "--order-by", "Id")
	require.NoError(t, err)
	assert.Contains(t, out, "Id")
	assert.Contains(t, out, "Ann")

	_, err = f.run(t, "query", "--model", f.model, "--filters", f.filters, "--dsn", dsn, "--entity", "Customer", "--set", "Missing=1")
	require.Error(t, err)
	assert.Equal(t, "not_found", errorKind(err))

	_, err = f.run(t, "schema", "drop", "--model", f.model, "--dsn", dsn)
	require.NoError(t, err)
	_, err = f.run(t, "query", "--model", f.model, "--dsn", dsn, "--entity", "Customer")
	require.Error(t, err)
}

func TestParseAssignment(t *testing.T) {
	f := newFixture(t)
	m, err := model.LoadYAMLFile(f.model)
	require.NoError(t, err)
	e, err := engine.New(nil, m)
	require.NoError(t, err)
	data, err := os.ReadFile(f.filters)
	require.NoError(t, err)
	require.NoError(t, e.LoadFilters(data))

	tests := []struct {
		in        string
		filter    string
		param     string
		value     any
		wantError string
	}{
		{in: "Active=true", filter: "Active", value: true},
		{in: "Active:isActive=false", filter: "Active", param: "isActive", value: false},
		{in: "Region=EU", filter: "Region", value: "EU"},
		{in: "Region=[EU, US]", filter: "Region", value: []any{"EU", "US"}},
		{in: "Active=null", filter: "Active", value: nil},
		{in: "Unknown=7", filter: "Unknown", value: 7},
		{in: "Active", wantError: "want filter[:param]=value"},
		{in: "=1", wantError: "want filter[:param]=value"},
		{in: "Active=[1", wantError: "Active=[1"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			name, param, v, err := parseAssignment(e, tt.in)
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.filter, name)
			assert.Equal(t, tt.param, param)
			assert.Equal(t, tt.value, v)
		})
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{domain.ErrConfiguration("bad"), "configuration"},
		{fmt.Errorf("wrapped: %w", domain.ErrNotFound("gone")), "not_found"},
		{domain.ErrUnhandledType("complex128"), "unhandled_type"},
		{errors.New("plain"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorKind(tt.err), tt.err.Error())
	}
}

func TestCommandsCmd(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "commands", "-o", "json", "--match", "schema")
	require.NoError(t, err)

	var entries []commandEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	assert.Equal(t, []string{"schema create", "schema drop", "schema print"}, paths)

	var modelFlag *flagEntry
	for i := range entries[0].Flags {
		if entries[0].Flags[i].Name == "model" {
			modelFlag = &entries[0].Flags[i]
		}
	}
	require.NotNil(t, modelFlag)
	assert.True(t, modelFlag.Required)
	assert.Equal(t, "string", modelFlag.Type)
}
