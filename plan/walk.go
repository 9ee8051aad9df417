package plan

// Inputs returns the direct relational inputs of rel.
func Inputs(rel Rel) []Rel {
	switch r := rel.(type) {
	case *Filter:
		return []Rel{r.Input}
	case *Project:
		return []Rel{r.Input}
	case *Join:
		return []Rel{r.Left, r.Right}
	case *Limit:
		return []Rel{r.Input}
	case *Sort:
		return []Rel{r.Input}
	}
	return nil
}

// WalkRels calls fn for rel and every relational node below it, depth first,
// left to right. Returning false from fn skips the node's inputs.
func WalkRels(rel Rel, fn func(Rel) bool) {
	if rel == nil || !fn(rel) {
		return
	}
	for _, in := range Inputs(rel) {
		WalkRels(in, fn)
	}
}

// Scans returns every scan below rel in plan order.
func Scans(rel Rel) []*Scan {
	var out []*Scan
	WalkRels(rel, func(r Rel) bool {
		if s, ok := r.(*Scan); ok {
			out = append(out, s)
		}
		return true
	})
	return out
}

// OutputBinding returns the binding under which rel's columns are visible
// when it is used as a derived table: the binding of its leftmost scan.
func OutputBinding(rel Rel) string {
	scans := Scans(rel)
	if len(scans) == 0 {
		return ""
	}
	return scans[0].Binding
}

// WalkExpr calls fn for e and every expression below it, depth first.
func WalkExpr(e Expr, fn func(Expr)) {
	if e == nil {
		return
	}
	fn(e)
	switch x := e.(type) {
	case *Comparison:
		WalkExpr(x.Left, fn)
		WalkExpr(x.Right, fn)
	case *Logical:
		for _, a := range x.Args {
			WalkExpr(a, fn)
		}
	case *Not:
		WalkExpr(x.Expr, fn)
	case *IsNull:
		WalkExpr(x.Expr, fn)
	case *Cast:
		WalkExpr(x.Expr, fn)
	case *Like:
		WalkExpr(x.Expr, fn)
		WalkExpr(x.Pattern, fn)
	}
}

// Params returns the distinct parameters referenced by the expressions of
// rel, in first-use order.
func Params(rel Rel) []*Param {
	seen := make(map[string]bool)
	var out []*Param
	visit := func(e Expr) {
		WalkExpr(e, func(x Expr) {
			if p, ok := x.(*Param); ok && !seen[p.Name] {
				seen[p.Name] = true
				out = append(out, p)
			}
		})
	}
	WalkRels(rel, func(r Rel) bool {
		switch x := r.(type) {
		case *Filter:
			visit(x.Predicate)
		case *Project:
			for _, c := range x.Columns {
				visit(c.Expr)
			}
		case *Join:
			visit(x.Condition)
		case *Sort:
			for _, k := range x.Keys {
				visit(k.Expr)
			}
		}
		return true
	})
	return out
}

// RewriteExpr rebuilds e bottom-up, replacing every node with the result of
// fn. Inner nodes are copied; e itself is not modified.
func RewriteExpr(e Expr, fn func(Expr) (Expr, error)) (Expr, error) {
	if e == nil {
		return nil, nil
	}
	var err error
	switch x := e.(type) {
	case *Comparison:
		c := *x
		if c.Left, err = RewriteExpr(x.Left, fn); err != nil {
			return nil, err
		}
		if c.Right, err = RewriteExpr(x.Right, fn); err != nil {
			return nil, err
		}
		e = &c
	case *Logical:
		l := &Logical{Op: x.Op, Args: make([]Expr, len(x.Args))}
		for i, a := range x.Args {
			if l.Args[i], err = RewriteExpr(a, fn); err != nil {
				return nil, err
			}
		}
		e = l
	case *Not:
		inner, err := RewriteExpr(x.Expr, fn)
		if err != nil {
			return nil, err
		}
		e = &Not{Expr: inner}
	case *IsNull:
		inner, err := RewriteExpr(x.Expr, fn)
		if err != nil {
			return nil, err
		}
		e = &IsNull{Expr: inner}
	case *Cast:
		inner, err := RewriteExpr(x.Expr, fn)
		if err != nil {
			return nil, err
		}
		e = &Cast{Expr: inner, Type: x.Type}
	case *Like:
		l := *x
		if l.Expr, err = RewriteExpr(x.Expr, fn); err != nil {
			return nil, err
		}
		if l.Pattern, err = RewriteExpr(x.Pattern, fn); err != nil {
			return nil, err
		}
		e = &l
	}
	return fn(e)
}
