package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynfilter/internal/domain"
	"dynfilter/internal/testutil"
	"dynfilter/plan"
	p "dynfilter/predicate"
)

func TestBuilder_Errors(t *testing.T) {
	m := testutil.ShopModel()
	isActive := p.NewParam[bool]("isActive")

	tests := []struct {
		name    string
		build   func() *Builder
		wantErr any
	}{
		{"unknown entity", func() *Builder { return From(m, "Invoice") }, &domain.NotFoundError{}},
		{"unknown property", func() *Builder { return From(m, "Order").OrderBy("Missing", false) }, &domain.NotFoundError{}},
		{"unknown navigation", func() *Builder { return From(m, "Order").Include("Lines.Product") }, &domain.NotFoundError{}},
		{"non-positive take", func() *Builder { return From(m, "Order").Take(0) }, &domain.ConfigurationError{}},
		{"parameterized where", func() *Builder {
			return From(m, "Order").Where(p.Lambda("Order", p.Eq(p.Field("IsActive"), isActive), isActive))
		}, &domain.ConfigurationError{}},
		{"wrong owner", func() *Builder {
			return From(m, "Order").Where(p.Lambda("Customer", p.Eq(p.Field("IsActive"), p.Const(true))))
		}, &domain.ConfigurationError{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Tree()
			require.Error(t, err)
			assert.IsType(t, tt.wantErr, err)
		})
	}
}

func TestBuilder_Tree(t *testing.T) {
	m := testutil.ShopModel()
	tree, err := From(m, "Order").
		Where(p.Lambda("Order", p.Gt(p.Field("Amount"), p.Const(10.0)))).
		OrderBy("Id", false).
		Take(3).
		Include("Customer.Orders").
		Include("Customer").
		Tree()
	require.NoError(t, err)

	incs := Includes(tree.Root)
	require.Len(t, incs, 2, "a repeated path prefix is included once")
	assert.Equal(t, "Orders", incs[0].Nav.Navigation.Name)
	assert.Equal(t, "Customer", incs[1].Nav.Navigation.Name)
	assert.Equal(t, incs[1].Nav.Binding, incs[0].Nav.Parent)
	assert.Same(t, incs[0].Nav, incs[0].Child)

	take, ok := incs[1].Input.(*Take)
	require.True(t, ok)
	assert.Equal(t, 3, take.Count)
	order := take.Input.(*OrderBy)
	where := order.Input.(*Where)
	root := where.Input.(*Extent)
	assert.Same(t, root, RootExtent(tree.Root))
	assert.Equal(t, "Order", root.Entity.Name)
}

func TestLower_PlainQuery(t *testing.T) {
	m := testutil.ShopModel()
	tree, err := From(m, "Customer").Where(p.Lambda("Customer", p.Eq(p.Field("Name"), p.Const("Ada")))).Tree()
	require.NoError(t, err)

	out, shape, err := Lower(tree)
	require.NoError(t, err)
	proj := out.Root.(*plan.Project)
	require.Len(t, proj.Columns, 4)
	assert.Equal(t, []string{"Id", "Name", "IsActive", "TenantID"}, shape.Order)
	assert.Equal(t, 4, shape.Width())
	assert.Equal(t, []string{"Id"}, shape.Keys())

	f := proj.Input.(*plan.Filter)
	scan := f.Input.(*plan.Scan)
	assert.Equal(t, "Customers", scan.Table)
	assert.False(t, scan.FiltersApplied)
	cmp := f.Predicate.(*plan.Comparison)
	ref := cmp.Left.(*plan.ColumnRef)
	assert.Equal(t, scan.Binding, ref.Binding)
	assert.Equal(t, "customer_name", ref.Column, "properties resolve to their columns")
}

func TestLower_PerTypeChain(t *testing.T) {
	m := testutil.ShopModel()
	tree, err := From(m, "Employee").Tree()
	require.NoError(t, err)

	out, shape, err := Lower(tree)
	require.NoError(t, err)
	j := out.Root.(*plan.Project).Input.(*plan.Join)
	assert.Equal(t, plan.InnerJoin, j.Kind)
	assert.Equal(t, "People", j.Left.(*plan.Scan).Table)
	assert.Equal(t, "Employees", j.Right.(*plan.Scan).Table)
	assert.Equal(t, []string{"Id", "Name", "IsActive", "Salary", "Department"}, shape.Order)

	salary := out.Root.(*plan.Project).Columns[shape.Columns["Salary"]].Expr.(*plan.ColumnRef)
	assert.Equal(t, j.Right.(*plan.Scan).Binding, salary.Binding)
}

func TestLower_IncludeCollection(t *testing.T) {
	m := testutil.ShopModel()
	tree, err := From(m, "Order").OrderBy("Id", false).Include("Lines").Tree()
	require.NoError(t, err)
	tree.Root.(*Include).Nav.Filtered = true

	out, shape, err := Lower(tree)
	require.NoError(t, err)
	require.Len(t, shape.Children, 1)
	child := shape.Children[0]
	assert.Equal(t, "Lines", child.Navigation)
	assert.True(t, child.Many)
	assert.Equal(t, 8+6, shape.Width())
	assert.Equal(t, 8, child.Columns["Id"], "child columns follow the parent's")

	sort := out.Root.(*plan.Project).Input.(*plan.Sort)
	j := sort.Input.(*plan.Join)
	assert.Equal(t, plan.LeftJoin, j.Kind)
	lines := j.Right.(*plan.Scan)
	assert.True(t, lines.FiltersApplied)
	assert.False(t, j.Left.(*plan.Sort).Input.(*plan.Scan).FiltersApplied)
	on := j.Condition.(*plan.Comparison)
	assert.Equal(t, "OrderId", on.Right.(*plan.ColumnRef).Column)
}

func TestLower_TakeBecomesDerivedTable(t *testing.T) {
	m := testutil.ShopModel()
	tree, err := From(m, "Order").OrderBy("Id", true).Take(2).Include("Lines").Tree()
	require.NoError(t, err)

	out, _, err := Lower(tree)
	require.NoError(t, err)
	sort := out.Root.(*plan.Project).Input.(*plan.Sort)
	j := sort.Input.(*plan.Join)
	limit, ok := j.Left.(*plan.Limit)
	require.True(t, ok)
	binding := plan.OutputBinding(limit)

	key := sort.Keys[0].Expr.(*plan.ColumnRef)
	assert.Equal(t, binding, key.Binding, "outer sort reads the derived table")
	assert.True(t, sort.Keys[0].Desc)
	assert.Equal(t, binding, j.Condition.(*plan.Comparison).Left.(*plan.ColumnRef).Binding)
}

func TestLower_ElementBecomesLateral(t *testing.T) {
	m := testutil.ShopModel()
	tree, err := From(m, "Order").Include("Customer").Tree()
	require.NoError(t, err)
	inc := tree.Root.(*Include)
	target := &Extent{Entity: m.MustEntity("Customer"), Binding: "e9", Filtered: true}
	inc.Child = &Element{Input: &Take{Input: target, Count: 1}}

	out, shape, err := Lower(tree)
	require.NoError(t, err)
	j := out.Root.(*plan.Project).Input.(*plan.Join)
	assert.Equal(t, plan.LeftLateralJoin, j.Kind)
	assert.Nil(t, j.Condition)
	limit := j.Right.(*plan.Limit)
	assert.Equal(t, 1, limit.Count)
	assert.True(t, limit.Input.(*plan.Scan).FiltersApplied)
	assert.False(t, shape.Children[0].Many)
}

func TestLower_NoRootExtent(t *testing.T) {
	_, _, err := Lower(&Tree{Root: &Element{}})
	var ni *domain.NotImplementedError
	assert.ErrorAs(t, err, &ni)
}

func TestClone(t *testing.T) {
	m := testutil.ShopModel()
	tree, err := From(m, "Order").Include("Lines").Tree()
	require.NoError(t, err)

	cp := tree.Clone()
	inc := cp.Root.(*Include)
	assert.NotSame(t, tree.Root, cp.Root)
	assert.Same(t, inc.Nav, inc.Child, "shared nodes stay shared")
	assert.NotSame(t, tree.Root.(*Include).Nav, inc.Nav)

	inc.Nav.Filtered = true
	inc.Child = &Where{Input: inc.Nav}
	orig := tree.Root.(*Include)
	assert.False(t, orig.Nav.Filtered)
	assert.Same(t, orig.Nav, orig.Child)
}
