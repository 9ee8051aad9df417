// Package compiler translates filter predicates into plan expressions bound
// to one scan (store space) or one extent (conceptual space).
package compiler

import (
	"fmt"
	"reflect"

	"dynfilter/filter"
	"dynfilter/internal/domain"
	"dynfilter/model"
	"dynfilter/plan"
	"dynfilter/predicate"
)

// Binding is the target a fragment is compiled against.
type Binding struct {
	Name   string // binding referenced by column refs
	Entity *model.EntityType
	Space  plan.DataSpace
	// Scan supplies the available columns in store space. Nil means every
	// storage column of Entity is available.
	Scan *plan.Scan
	// Chain holds the scans of the other storage units inner-joined with
	// Scan for a per-type hierarchy. Members missing from Scan resolve
	// against them.
	Chain []*plan.Scan
}

// storedColumn finds a column on the binding's scan, then on the storage
// units joined with it, and returns the binding that provides it.
func (b Binding) storedColumn(name string) (plan.Column, string, bool) {
	if col, ok := b.Scan.Column(name); ok {
		return col, b.Name, true
	}
	for _, sc := range b.Chain {
		if sc == b.Scan {
			continue
		}
		if col, ok := sc.Column(name); ok {
			return col, sc.Binding, true
		}
	}
	return plan.Column{}, "", false
}

// Options tune the generated fragments for a backend.
type Options struct {
	// BoolAsNumeric compares boolean shortcut columns through an integer
	// cast, for backends that store booleans as numbers.
	BoolAsNumeric bool
}

// Compiler builds filter fragments. It is stateless apart from the shared
// parameter name registry and safe for concurrent use.
type Compiler struct {
	names *Names
	opts  Options
}

// New creates a compiler.
func New(names *Names, opts Options) *Compiler {
	return &Compiler{names: names, opts: opts}
}

// Names returns the parameter name registry.
func (c *Compiler) Names() *Names { return c.names }

// Fragment builds the full per-filter condition for b:
//
//	condition OR NOT (sentinel IS NULL)
//
// ok is false when a column-shortcut filter does not apply to b because the
// column is absent.
func (c *Compiler) Fragment(def *filter.Definition, b Binding) (expr plan.Expr, ok bool, err error) {
	var cond plan.Expr
	if def.IsColumn() {
		cond, ok = c.columnCondition(def, b)
		if !ok {
			return nil, false, nil
		}
	} else {
		cond, err = c.Compile(def.Name, def.Predicate, b)
		if err != nil {
			return nil, false, err
		}
	}
	sentinel := &plan.Param{Name: c.names.Sentinel(def.Name), Type: plan.NullableBool}
	return plan.Or(cond, &plan.Not{Expr: &plan.IsNull{Expr: sentinel}}), true, nil
}

func (c *Compiler) columnCondition(def *filter.Definition, b Binding) (plan.Expr, bool) {
	column, typ, ok := resolveColumn(def.Column, b)
	if !ok {
		return nil, false
	}
	param := &plan.Param{Name: c.names.Name(def.Name, def.Column), Type: typ.AsNullable()}
	var left, right plan.Expr = &plan.ColumnRef{Binding: b.Name, Column: column, Type: typ}, param
	if c.opts.BoolAsNumeric && typ.Kind == plan.KindBool {
		numeric := plan.Type{Kind: plan.KindInt64, Nullable: true}
		left = &plan.Cast{Expr: left, Type: numeric}
		right = &plan.Cast{Expr: right, Type: numeric}
	}
	cmp := &plan.Comparison{Op: plan.OpEq, Left: left, Right: right}
	return plan.Or(cmp, &plan.IsNull{Expr: param}), true
}

// resolveColumn finds a shortcut column on the binding. In conceptual space
// the column is matched against property column names and the property name
// is returned.
func resolveColumn(column string, b Binding) (string, plan.Type, bool) {
	if b.Space == plan.Conceptual {
		for _, p := range b.Entity.AllProperties() {
			if p.ColumnName() == column || p.Name == column {
				typ, err := plan.TypeFor(p.Type)
				if err != nil {
					return "", plan.Type{}, false
				}
				return p.Name, typ, true
			}
		}
		return "", plan.Type{}, false
	}
	if b.Scan != nil {
		col, ok := b.Scan.Column(column)
		return col.Name, col.Type, ok
	}
	for _, p := range b.Entity.StorageProperties() {
		if p.ColumnName() == column {
			typ, err := plan.TypeFor(p.Type)
			if err != nil {
				return "", plan.Type{}, false
			}
			return column, typ, true
		}
	}
	return "", plan.Type{}, false
}

// Compile translates a validated predicate body against b. The result's
// truth table matches predicate.Eval for the same row and parameter values,
// where a NULL parameter satisfies every comparison that uses it.
func (c *Compiler) Compile(filterName string, fn *predicate.Func, b Binding) (plan.Expr, error) {
	v := &visitor{
		compiler: c,
		filter:   filterName,
		fn:       fn,
		binding:  b,
		memo:     make(map[predicate.Node]plan.Expr),
	}
	expr, err := v.visit(fn.Body)
	if err != nil {
		return nil, err
	}
	return expr, nil
}

type visitor struct {
	compiler *Compiler
	filter   string
	fn       *predicate.Func
	binding  Binding
	memo     map[predicate.Node]plan.Expr
}

func (v *visitor) visit(n predicate.Node) (plan.Expr, error) {
	if e, ok := v.memo[n]; ok {
		return e, nil
	}
	e, err := v.build(n)
	if err != nil {
		return nil, err
	}
	v.memo[n] = e
	return e, nil
}

func (v *visitor) build(n predicate.Node) (plan.Expr, error) {
	switch x := n.(type) {
	case *predicate.Binary:
		return v.binary(x)
	case *predicate.Unary:
		return v.unary(x)
	case *predicate.Member:
		return v.member(x)
	case *predicate.Param:
		return v.param(x)
	case *predicate.Constant:
		return constant(x)
	case *predicate.Call:
		return v.call(x)
	case *predicate.Conditional:
		return nil, domain.ErrNotImplemented("conditional expression in filter %q", v.filter)
	}
	return nil, domain.ErrNotImplemented("%s in filter %q", predicate.Kind(n), v.filter)
}

var compareOps = map[predicate.BinaryOp]plan.CompareOp{
	predicate.OpEqual:        plan.OpEq,
	predicate.OpNotEqual:     plan.OpNe,
	predicate.OpGreater:      plan.OpGt,
	predicate.OpGreaterEqual: plan.OpGe,
	predicate.OpLess:         plan.OpLt,
	predicate.OpLessEqual:    plan.OpLe,
}

func (v *visitor) binary(b *predicate.Binary) (plan.Expr, error) {
	if !b.Op.IsComparison() && !b.Op.IsLogical() {
		return nil, domain.ErrNotImplemented("binary operator %s in filter %q", b.Op, v.filter)
	}
	l, err := v.visit(b.Left)
	if err != nil {
		return nil, err
	}
	r, err := v.visit(b.Right)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case predicate.OpAndAlso:
		return plan.And(l, r), nil
	case predicate.OpOrElse:
		return plan.Or(l, r), nil
	}

	if nullConstant(l) || nullConstant(r) {
		other := l
		if nullConstant(l) {
			other = r
		}
		isNull := &plan.IsNull{Expr: other}
		if b.Op == predicate.OpEqual {
			return isNull, nil
		}
		return &plan.Not{Expr: isNull}, nil
	}

	cmp := &plan.Comparison{Op: compareOps[b.Op], Left: l, Right: r}
	return withNullEscape(cmp, l, r), nil
}

// withNullEscape appends OR p IS NULL for every parameter operand, so that
// nulling a parameter disables exactly the clauses that use it.
func withNullEscape(cond plan.Expr, operands ...plan.Expr) plan.Expr {
	out := []plan.Expr{cond}
	for _, o := range operands {
		if p := paramOperand(o); p != nil {
			out = append(out, &plan.IsNull{Expr: p})
		}
	}
	return plan.Or(out...)
}

func paramOperand(e plan.Expr) *plan.Param {
	switch x := e.(type) {
	case *plan.Param:
		return x
	case *plan.Cast:
		return paramOperand(x.Expr)
	}
	return nil
}

func nullConstant(e plan.Expr) bool {
	c, ok := e.(*plan.Constant)
	return ok && c.Value == nil
}

func (v *visitor) unary(u *predicate.Unary) (plan.Expr, error) {
	operand, err := v.visit(u.Operand)
	if err != nil {
		return nil, err
	}
	switch u.Op {
	case predicate.OpNot:
		return &plan.Not{Expr: operand}, nil
	case predicate.OpConvert:
		typ, err := plan.TypeFor(u.To)
		if err != nil {
			return nil, err
		}
		if plan.TypeOf(operand).Nullable {
			typ = typ.AsNullable()
		}
		return &plan.Cast{Expr: operand, Type: typ}, nil
	}
	return nil, domain.ErrNotImplemented("unary operator %s in filter %q", u.Op, v.filter)
}

func (v *visitor) member(m *predicate.Member) (plan.Expr, error) {
	if m.Instance != nil {
		return nil, domain.ErrTranslation(v.filter, "member %q belongs to a related entity and cannot be resolved from %q", m.Name, v.binding.Entity.Name)
	}
	prop, ok := v.binding.Entity.Property(m.Name)
	if !ok {
		return nil, domain.ErrTranslation(v.filter, "entity %q has no member %q", v.binding.Entity.Name, m.Name)
	}
	typ, err := plan.TypeFor(prop.Type)
	if err != nil {
		return nil, err
	}
	if v.binding.Space == plan.Conceptual {
		return &plan.ColumnRef{Binding: v.binding.Name, Column: prop.Name, Type: typ}, nil
	}
	column, binding := prop.ColumnName(), v.binding.Name
	if v.binding.Scan != nil {
		col, from, ok := v.binding.storedColumn(column)
		if !ok {
			return nil, domain.ErrTranslation(v.filter, "member %q (column %q) is not stored in table %q", m.Name, column, v.binding.Scan.Table)
		}
		typ, binding = col.Type, from
	}
	return &plan.ColumnRef{Binding: binding, Column: column, Type: typ}, nil
}

func (v *visitor) param(p *predicate.Param) (plan.Expr, error) {
	declared, ok := v.fn.Param(p.Name)
	if !ok {
		return nil, domain.ErrTranslation(v.filter, "parameter %q is not declared", p.Name)
	}
	name := v.compiler.names.Name(v.filter, p.Name)
	if isCollection(declared.Type) {
		elem, err := plan.ElemTypeFor(declared.Type)
		if err != nil {
			return nil, err
		}
		return &plan.Param{Name: name, Type: elem.AsNullable(), Collection: true}, nil
	}
	typ, err := plan.TypeFor(declared.Type)
	if err != nil {
		return nil, err
	}
	return &plan.Param{Name: name, Type: typ.AsNullable()}, nil
}

func constant(c *predicate.Constant) (plan.Expr, error) {
	rt := c.Type
	if rt == nil {
		rt = reflect.TypeOf(c.Value)
	}
	typ, err := plan.TypeFor(rt)
	if err != nil {
		return nil, err
	}
	v, err := normalize(c.Value)
	if err != nil {
		return nil, err
	}
	if v == nil {
		typ = typ.AsNullable()
	}
	return &plan.Constant{Value: v, Type: typ}, nil
}

// normalize dereferences pointers and widens integers so literals have one
// Go representation per kind family.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	if _, err := plan.TypeFor(rv.Type()); err != nil {
		return nil, fmt.Errorf("constant %v: %w", v, err)
	}
	return rv.Interface(), nil
}

func isCollection(rt reflect.Type) bool {
	return rt != nil && rt.Kind() == reflect.Slice && rt.Elem().Kind() != reflect.Uint8
}
