package engine

import (
	"context"
	"fmt"
	"time"

	"dynfilter/internal/sqlgen"
	"dynfilter/params"
	"dynfilter/plan"
	"dynfilter/query"
)

// Session is a unit of work. Values and enabled flags set on a session
// override the engine's global ones for the session's queries only.
type Session struct {
	engine *Engine
	scope  *params.Scope
}

// SetParameterValue sets a session value of a filter parameter. An empty
// param names the filter's only parameter.
func (s *Session) SetParameterValue(filterName, param string, v any) error {
	name, p, err := s.engine.parameter(filterName, param)
	if err != nil {
		return err
	}
	s.scope.SetValue(name, p, v)
	return nil
}

// GetParameterValue returns the effective value of a filter parameter for
// this session: the session's value if set, else the global one.
func (s *Session) GetParameterValue(ctx context.Context, filterName, param string) (v any, ok bool, err error) {
	name, p, err := s.engine.parameter(filterName, param)
	if err != nil {
		return nil, false, err
	}
	return s.engine.store.Resolve(ctx, s.scope, name, p)
}

// ClearParameterValue removes the session value of a filter parameter.
func (s *Session) ClearParameterValue(filterName, param string) error {
	name, p, err := s.engine.parameter(filterName, param)
	if err != nil {
		return err
	}
	s.scope.ClearValue(name, p)
	return nil
}

// SetParameterProducer sets a session producer of a filter parameter.
func (s *Session) SetParameterProducer(filterName, param string, fn params.Producer) error {
	name, p, err := s.engine.parameter(filterName, param)
	if err != nil {
		return err
	}
	s.scope.SetProducer(name, p, fn)
	return nil
}

// EnableFilter enables a filter for this session.
func (s *Session) EnableFilter(filterName string) error {
	name, err := s.engine.filterName(filterName)
	if err != nil {
		return err
	}
	s.scope.SetEnabled(name, true)
	return nil
}

// DisableFilter disables a filter for this session.
func (s *Session) DisableFilter(filterName string) error {
	name, err := s.engine.filterName(filterName)
	if err != nil {
		return err
	}
	s.scope.SetEnabled(name, false)
	return nil
}

// Query runs tree and materializes its rows.
func (s *Session) Query(ctx context.Context, tree *Tree) ([]*Record, error) {
	return s.engine.query(ctx, s.scope, tree)
}

// Explain renders tree as the command Query would execute, before
// parameter binding.
func (s *Session) Explain(ctx context.Context, tree *Tree) (*sqlgen.Command, error) {
	cmd, _, err := s.engine.compile(ctx, tree)
	return cmd, err
}

// Close drops the session's overrides. Later writes to the session are
// ignored.
func (s *Session) Close() {
	s.scope.Close()
}

// Explain renders tree with the engine's global state.
func (e *Engine) Explain(ctx context.Context, tree *Tree) (*sqlgen.Command, error) {
	cmd, _, err := e.compile(ctx, tree)
	return cmd, err
}

// compile runs both plan-created passes over a copy of tree and renders the
// store plan.
func (e *Engine) compile(ctx context.Context, tree *Tree) (*sqlgen.Command, *query.Shape, error) {
	if tree == nil {
		return nil, nil, fmt.Errorf("query tree is required")
	}
	t, err := e.harness.PlanCreated(ctx, tree.Clone())
	if err != nil {
		return nil, nil, err
	}
	lowered, shape, err := query.Lower(t.(*query.Tree))
	if err != nil {
		return nil, nil, err
	}
	stored, err := e.harness.PlanCreated(ctx, lowered)
	if err != nil {
		return nil, nil, err
	}
	cmd, err := sqlgen.Format(stored.(*plan.Tree), e.dialect)
	if err != nil {
		return nil, nil, err
	}
	return cmd, shape, nil
}

func (e *Engine) query(ctx context.Context, scope *params.Scope, tree *Tree) ([]*Record, error) {
	if e.db == nil {
		return nil, fmt.Errorf("engine has no database")
	}
	cmd, shape, err := e.compile(ctx, tree)
	if err != nil {
		return nil, err
	}
	bound, args, err := e.harness.ParametersResolving(ctx, scope, cmd)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, bound.Text, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	m := newMaterializer(shape)
	width := shape.Width()
	for rows.Next() {
		raw := make([]any, width)
		dest := make([]any, width)
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := m.add(raw); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	e.logger.Debug("query executed", "entity", shape.Entity.Name, "records", len(m.roots), "duration", time.Since(start))
	return m.roots, nil
}
