package interception

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynfilter/filter"
	"dynfilter/internal/compiler"
	"dynfilter/internal/domain"
	"dynfilter/internal/navigation"
	"dynfilter/internal/rewrite"
	"dynfilter/internal/sqlgen"
	"dynfilter/internal/testutil"
	"dynfilter/params"
	"dynfilter/plan"
	p "dynfilter/predicate"
	"dynfilter/query"
)

type fixture struct {
	harness *Harness
	store   *params.Store
	names   *compiler.Names
	tree    *query.Tree
}

func setup(t *testing.T, conceptual bool) fixture {
	t.Helper()
	m := testutil.ShopModel()
	r := filter.NewRegistry(m, nil)
	isActive := p.NewParam[bool]("isActive")
	_, err := r.RegisterPredicate("Active", "Order", p.Lambda("Order", p.Eq(p.Field("IsActive"), isActive), isActive))
	require.NoError(t, err)

	names := compiler.NewNames("")
	c := compiler.New(names, compiler.Options{})
	var ext *navigation.Extension
	if conceptual {
		ext = navigation.New(r, c, false, nil)
	}
	store := params.NewStore()
	tree, err := query.From(m, "Order").Tree()
	require.NoError(t, err)
	return fixture{
		harness: New(rewrite.New(r, c, nil), ext, store, names, nil),
		store:   store,
		names:   names,
		tree:    tree,
	}
}

func TestPlanCreated_Conceptual(t *testing.T) {
	f := setup(t, true)
	out, err := f.harness.PlanCreated(context.Background(), f.tree)
	require.NoError(t, err)
	where, ok := out.(*query.Tree).Root.(*query.Where)
	require.True(t, ok)
	assert.True(t, where.Input.(*query.Extent).Filtered)

	lowered, _, err := query.Lower(out.(*query.Tree))
	require.NoError(t, err)
	stored, err := f.harness.PlanCreated(context.Background(), lowered)
	require.NoError(t, err)
	filters := 0
	plan.WalkRels(stored.(*plan.Tree).Root, func(r plan.Rel) bool {
		if _, ok := r.(*plan.Filter); ok {
			filters++
		}
		return true
	})
	assert.Equal(t, 1, filters, "scan marked FiltersApplied is not filtered again")
}

func TestPlanCreated_StoreOnly(t *testing.T) {
	f := setup(t, false)
	out, err := f.harness.PlanCreated(context.Background(), f.tree)
	require.NoError(t, err)
	assert.IsType(t, &query.Extent{}, out.(*query.Tree).Root, "conceptual tree passes through")

	lowered, _, err := query.Lower(f.tree)
	require.NoError(t, err)
	stored, err := f.harness.PlanCreated(context.Background(), lowered)
	require.NoError(t, err)
	_, ok := stored.(*plan.Tree).Root.(*plan.Project).Input.(*plan.Filter)
	assert.True(t, ok)
}

func TestPlanCreated_WithoutFilters(t *testing.T) {
	f := setup(t, true)
	ctx := domain.WithoutFilters(context.Background())
	out, err := f.harness.PlanCreated(ctx, f.tree)
	require.NoError(t, err)
	assert.Same(t, f.tree, out)
	assert.IsType(t, &query.Extent{}, f.tree.Root)
}

type oddTree struct{}

func (oddTree) DataSpace() plan.DataSpace { return plan.Store }

func TestPlanCreated_UnexpectedTree(t *testing.T) {
	f := setup(t, false)
	_, err := f.harness.PlanCreated(context.Background(), oddTree{})
	assert.Error(t, err)
}

func command(f fixture, text string, ps ...sqlgen.Parameter) *sqlgen.Command {
	return &sqlgen.Command{Text: text, Params: ps, Dialect: sqlgen.SQLite{}}
}

func TestParametersResolving_Sentinel(t *testing.T) {
	f := setup(t, false)
	sentinel := f.names.Sentinel("Active")
	value := f.names.Name("Active", "isActive")
	f.store.SetValue("Active", "isActive", true)
	cmd := command(f, "SELECT 1",
		sqlgen.Parameter{Name: sentinel, Placeholder: "@" + sentinel},
		sqlgen.Parameter{Name: value, Placeholder: "@" + value},
	)
	ctx := context.Background()

	_, args, err := f.harness.ParametersResolving(ctx, nil, cmd)
	require.NoError(t, err)
	assert.Equal(t, []any{sql.Named(sentinel, nil), sql.Named(value, true)}, args)

	scope := f.store.NewScope()
	scope.SetEnabled("Active", false)
	_, args, err = f.harness.ParametersResolving(ctx, scope, cmd)
	require.NoError(t, err)
	assert.Equal(t, sql.Named(sentinel, true), args[0], "disabled in the session")

	_, args, err = f.harness.ParametersResolving(ctx, nil, cmd)
	require.NoError(t, err)
	assert.Equal(t, sql.Named(sentinel, nil), args[0], "still enabled globally")
}

func TestParametersResolving_ForeignParameterUntouched(t *testing.T) {
	f := setup(t, false)
	value := f.names.Name("Active", "isActive")
	f.store.SetValue("Active", "isActive", true)
	text := `SELECT 1 WHERE "t0"."Name" = @x AND "t0"."IsActive" = @` + value
	cmd := command(f, text,
		sqlgen.Parameter{Name: "x", Placeholder: "@x"},
		sqlgen.Parameter{Name: value, Placeholder: "@" + value},
	)

	out, args, err := f.harness.ParametersResolving(context.Background(), nil, cmd)
	require.NoError(t, err)
	assert.Equal(t, text, out.Text)
	assert.Equal(t, []any{sql.Named(value, true)}, args, "only filter parameters are bound")
	assert.Len(t, out.Params, 2)
}

func TestParametersResolving_Errors(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()

	boom := errors.New("boom")
	name := f.names.Name("Active", "isActive")
	f.store.SetProducer("Active", "isActive", func(context.Context) (any, error) { return nil, boom })
	_, _, err := f.harness.ParametersResolving(ctx, nil, command(f, "SELECT 1", sqlgen.Parameter{Name: name, Placeholder: "@" + name}))
	assert.ErrorIs(t, err, boom)
}

func TestParametersResolving_Collections(t *testing.T) {
	f := setup(t, false)
	name := f.names.Name("ByIds", "ids")
	ph := "@" + name
	param := sqlgen.Parameter{Name: name, Placeholder: ph, Type: plan.Type{Kind: plan.KindInt64}, Collection: true}
	text := `SELECT 1 WHERE (("t0"."Id" = ` + ph + `) OR (` + ph + ` IS NULL))`
	ctx := context.Background()

	tests := []struct {
		name     string
		value    any
		wantText string
		wantArg  any
	}{
		{"list", []int64{4, 5, 6}, `SELECT 1 WHERE (("t0"."Id" IN (@dfp_1, 5, 6)) OR (@dfp_1 IS NULL))`, int64(4)},
		{"single", []int64{4}, `SELECT 1 WHERE (("t0"."Id" IN (@dfp_1)) OR (@dfp_1 IS NULL))`, int64(4)},
		{"empty", []int64{}, `SELECT 1 WHERE (("t0"."Id" IN ()) OR (@dfp_1 IS NULL))`, int64(0)},
		{"absent", nil, text, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.store.SetValue("ByIds", "ids", tt.value)
			cmd := command(f, text, param)
			bound, args, err := f.harness.ParametersResolving(ctx, nil, cmd)
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, bound.Text)
			assert.Equal(t, []any{sql.Named(name, tt.wantArg)}, args)
			assert.Equal(t, text, cmd.Text, "the cached command is not modified")
		})
	}

	f.store.SetValue("ByIds", "ids", 7)
	_, _, err := f.harness.ParametersResolving(ctx, nil, command(f, text, param))
	assert.Error(t, err)
}

func TestPatchEquality(t *testing.T) {
	text := "(a = @p_1) OR (b = @p_10) OR (@p_1 IS NULL) OR (c = @p_1)"
	assert.Equal(t,
		"(a IN (@p_1, 2)) OR (b = @p_10) OR (@p_1 IS NULL) OR (c IN (@p_1, 2))",
		patchEquality(text, "@p_1", "IN (@p_1, 2)"))
	assert.Equal(t, "x", patchEquality("x", "@p_1", "IN ()"))
}
