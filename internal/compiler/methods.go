package compiler

import (
	"dynfilter/internal/domain"
	"dynfilter/plan"
	"dynfilter/predicate"
)

var likeModes = map[string]plan.LikeMode{
	predicate.MethodStartsWith: plan.LikePrefix,
	predicate.MethodEndsWith:   plan.LikeSuffix,
	predicate.MethodContains:   plan.LikeSubstring,
}

// call handles the method allow-list: string StartsWith, EndsWith and
// Contains, and Contains on a collection parameter.
func (v *visitor) call(c *predicate.Call) (plan.Expr, error) {
	mode, ok := likeModes[c.Method]
	if !ok || len(c.Args) != 1 {
		return nil, domain.ErrNotImplemented("method call %s in filter %q", c.Method, v.filter)
	}

	if p, ok := c.Target.(*predicate.Param); ok && c.Method == predicate.MethodContains {
		if declared, found := v.fn.Param(p.Name); found && isCollection(declared.Type) {
			return v.membership(p, c.Args[0])
		}
	}

	target, err := v.visit(c.Target)
	if err != nil {
		return nil, err
	}
	arg, err := v.visit(c.Args[0])
	if err != nil {
		return nil, err
	}
	if plan.TypeOf(target).Kind != plan.KindString || plan.TypeOf(arg).Kind != plan.KindString {
		return nil, domain.ErrNotImplemented("method call %s on %s in filter %q", c.Method, plan.TypeOf(target), v.filter)
	}
	like := &plan.Like{Expr: target, Pattern: arg, Mode: mode}
	return withNullEscape(like, target, arg), nil
}

// membership compiles list.Contains(value) to
//
//	value = @list OR @list IS NULL
//
// The equality is expanded to an IN list when the parameter is bound.
func (v *visitor) membership(list *predicate.Param, value predicate.Node) (plan.Expr, error) {
	p, err := v.visit(list)
	if err != nil {
		return nil, err
	}
	param, ok := p.(*plan.Param)
	if !ok || !param.Collection {
		return nil, domain.ErrTranslation(v.filter, "parameter %q is not a collection", list.Name)
	}
	operand, err := v.visit(value)
	if err != nil {
		return nil, err
	}
	cmp := &plan.Comparison{Op: plan.OpEq, Left: operand, Right: param}
	return plan.Or(cmp, &plan.IsNull{Expr: param}), nil
}
