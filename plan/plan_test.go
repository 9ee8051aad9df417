package plan

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynfilter/internal/domain"
)

func TestTypeFor(t *testing.T) {
	tests := []struct {
		rt   reflect.Type
		want Type
	}{
		{reflect.TypeFor[bool](), Type{Kind: KindBool}},
		{reflect.TypeFor[*bool](), Type{Kind: KindBool, Nullable: true}},
		{reflect.TypeFor[int](), Type{Kind: KindInt64}},
		{reflect.TypeFor[uint](), Type{Kind: KindUint64}},
		{reflect.TypeFor[int16](), Type{Kind: KindInt16}},
		{reflect.TypeFor[float32](), Type{Kind: KindFloat32}},
		{reflect.TypeFor[string](), Type{Kind: KindString}},
		{reflect.TypeFor[[]byte](), Type{Kind: KindBinary}},
		{reflect.TypeFor[time.Time](), Type{Kind: KindDateTime}},
		{reflect.TypeFor[*uuid.UUID](), Type{Kind: KindGuid, Nullable: true}},
	}
	for _, tc := range tests {
		t.Run(tc.rt.String(), func(t *testing.T) {
			got, err := TypeFor(tc.rt)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTypeFor_Unhandled(t *testing.T) {
	for _, rt := range []reflect.Type{reflect.TypeFor[[]int](), reflect.TypeFor[struct{}](), reflect.TypeFor[map[string]int]()} {
		_, err := TypeFor(rt)
		var ute *domain.UnhandledTypeError
		assert.True(t, errors.As(err, &ute), rt.String())
	}

	elem, err := ElemTypeFor(reflect.TypeFor[[]int32]())
	require.NoError(t, err)
	assert.Equal(t, Type{Kind: KindInt32}, elem)
}

func TestAnd_Flattens(t *testing.T) {
	a := &IsNull{Expr: &ColumnRef{Binding: "t0", Column: "a"}}
	b := &IsNull{Expr: &ColumnRef{Binding: "t0", Column: "b"}}
	c := &IsNull{Expr: &ColumnRef{Binding: "t0", Column: "c"}}

	got := And(And(a, b), nil, c)
	l, ok := got.(*Logical)
	require.True(t, ok)
	assert.Equal(t, OpAnd, l.Op)
	assert.Equal(t, []Expr{a, b, c}, l.Args)

	assert.Same(t, a, And(nil, a))
	assert.Nil(t, And())

	// OR under AND stays nested.
	mixed := And(Or(a, b), c).(*Logical)
	require.Len(t, mixed.Args, 2)
	assert.Equal(t, OpOr, mixed.Args[0].(*Logical).Op)
}

func TestScansAndParams(t *testing.T) {
	orders := &Scan{Table: "Orders", Binding: "t0"}
	lines := &Scan{Table: "OrderLines", Binding: "t1"}
	p1 := &Param{Name: "dfp_1", Type: Bool}
	p2 := &Param{Name: "dfp_2", Type: Int64, Collection: true}

	root := &Project{
		Input: &Join{
			Kind:  LeftJoin,
			Left:  &Filter{Input: orders, Predicate: &Comparison{Op: OpEq, Left: &ColumnRef{Binding: "t0", Column: "IsActive"}, Right: p1}},
			Right: &Filter{Input: lines, Predicate: And(&Comparison{Op: OpEq, Left: &ColumnRef{Binding: "t1", Column: "Id"}, Right: p2}, &IsNull{Expr: p1})},
		},
	}

	assert.Equal(t, []*Scan{orders, lines}, Scans(root))
	assert.Equal(t, []*Param{p1, p2}, Params(root))
	assert.Equal(t, "t0", OutputBinding(root))
}
