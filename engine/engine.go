// Package engine wires dynamic filtering into query execution. An Engine
// owns the filter definitions and global parameter values of one model;
// a Session is a unit of work with its own parameter overrides.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"dynfilter/filter"
	"dynfilter/internal/compiler"
	"dynfilter/internal/config"
	"dynfilter/internal/domain"
	"dynfilter/internal/interception"
	"dynfilter/internal/navigation"
	"dynfilter/internal/rewrite"
	"dynfilter/internal/sqlgen"
	"dynfilter/model"
	"dynfilter/params"
	"dynfilter/predicate"
	"dynfilter/query"
)

// Error types returned by the engine.
type (
	ConfigurationError  = domain.ConfigurationError
	TranslationError    = domain.TranslationError
	NotImplementedError = domain.NotImplementedError
	UnhandledTypeError  = domain.UnhandledTypeError
	NotFoundError       = domain.NotFoundError
)

// Tree is a conceptual query, built with query.From.
type Tree = query.Tree

// WithoutFilters returns a context whose queries run unfiltered.
func WithoutFilters(ctx context.Context) context.Context {
	return domain.WithoutFilters(ctx)
}

// Engine executes filtered queries against one database.
type Engine struct {
	db         *sql.DB
	model      *model.Model
	dialect    sqlgen.Dialect
	registry   *filter.Registry
	store      *params.Store
	names      *compiler.Names
	harness    *interception.Harness
	conceptual bool
	logger     *slog.Logger
}

type options struct {
	logger  *slog.Logger
	dialect sqlgen.Dialect
	caps    *sqlgen.Capabilities
	cfg     *config.Config
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDialect sets the SQL dialect, overriding the configured one.
func WithDialect(d sqlgen.Dialect) Option {
	return func(o *options) { o.dialect = d }
}

// WithCapabilities overrides the dialect's capabilities.
func WithCapabilities(caps sqlgen.Capabilities) Option {
	return func(o *options) { o.caps = &caps }
}

// WithConfig applies an environment configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// New creates an engine over db for the entities of m. db may be nil for an
// engine that only renders commands.
func New(db *sql.DB, m *model.Model, opts ...Option) (*Engine, error) {
	if m == nil {
		return nil, domain.ErrConfiguration("model is required")
	}
	o := options{cfg: config.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, domain.ErrConfiguration("%v", err)
	}

	d := o.dialect
	if d == nil {
		var err error
		if d, err = sqlgen.DialectByName(o.cfg.Dialect); err != nil {
			return nil, domain.ErrConfiguration("%v", err)
		}
	}
	caps := d.Capabilities()
	if o.cfg.LateralJoins != nil {
		caps.FirstRowReduction = *o.cfg.LateralJoins
	}
	if o.caps != nil {
		caps = *o.caps
	}
	d = sqlgen.WithCapabilities(d, caps)

	// Synthetic names are the prefix, an underscore and a counter.
	if caps.MaxIdentifierLength > 0 && len(o.cfg.ParamPrefix)+8 > caps.MaxIdentifierLength {
		return nil, domain.ErrConfiguration("parameter prefix %q is too long for %s identifiers (max %d)",
			o.cfg.ParamPrefix, d.Name(), caps.MaxIdentifierLength)
	}

	e := &Engine{
		db:         db,
		model:      m,
		dialect:    d,
		registry:   filter.NewRegistry(m, o.logger),
		store:      params.NewStore(),
		names:      compiler.NewNames(o.cfg.ParamPrefix),
		conceptual: o.cfg.PreferConceptual,
		logger:     o.logger,
	}
	c := compiler.New(e.names, compiler.Options{BoolAsNumeric: caps.BoolAsNumeric})
	var ext *navigation.Extension
	if e.conceptual {
		ext = navigation.New(e.registry, c, caps.FirstRowReduction, o.logger)
	}
	e.harness = interception.New(rewrite.New(e.registry, c, o.logger), ext, e.store, e.names, o.logger)

	if o.cfg.ModelCache != "" {
		if err := e.LoadModelCache(o.cfg.ModelCache); err != nil {
			return nil, err
		}
	}
	e.logger.Info("filter engine ready",
		"dialect", d.Name(),
		"conceptual", e.conceptual,
		"first_row_reduction", caps.FirstRowReduction,
		"filters", len(e.registry.Names()))
	return e, nil
}

// Model returns the engine's model.
func (e *Engine) Model() *model.Model { return e.model }

// Dialect returns the dialect commands are rendered for.
func (e *Engine) Dialect() sqlgen.Dialect { return e.dialect }

// RegisterFilter declares a predicate filter on owner, an entity type or
// interface name.
func (e *Engine) RegisterFilter(name, owner string, fn *predicate.Func, opts ...filter.Option) error {
	def, err := e.registry.RegisterPredicate(name, owner, fn, opts...)
	if err != nil {
		return err
	}
	e.applyDefaults(def)
	return nil
}

// RegisterColumnFilter declares a filter comparing column with the value of
// its single parameter, which is named after the column.
func (e *Engine) RegisterColumnFilter(name, owner, column string, opts ...filter.Option) error {
	def, err := e.registry.RegisterColumn(name, owner, column, opts...)
	if err != nil {
		return err
	}
	e.applyDefaults(def)
	return nil
}

func (e *Engine) applyDefaults(def *filter.Definition) {
	for param, v := range def.Options.Defaults {
		e.store.SetValue(def.Name, param, v)
	}
}

// Filters returns every registered definition in registration order.
func (e *Engine) Filters() []*filter.Definition {
	return e.registry.All()
}

// SetParameterValue sets the global value of a filter parameter. An empty
// param names the filter's only parameter.
func (e *Engine) SetParameterValue(filterName, param string, v any) error {
	name, p, err := e.parameter(filterName, param)
	if err != nil {
		return err
	}
	e.store.SetValue(name, p, v)
	return nil
}

// GetParameterValue returns the global value of a filter parameter,
// running its producer if one is set. ok is false when no value is set.
func (e *Engine) GetParameterValue(ctx context.Context, filterName, param string) (v any, ok bool, err error) {
	name, p, err := e.parameter(filterName, param)
	if err != nil {
		return nil, false, err
	}
	return e.store.Resolve(ctx, nil, name, p)
}

// ClearParameterValue removes the global value or producer of a filter
// parameter.
func (e *Engine) ClearParameterValue(filterName, param string) error {
	name, p, err := e.parameter(filterName, param)
	if err != nil {
		return err
	}
	e.store.ClearValue(name, p)
	return nil
}

// SetParameterProducer sets a function computing the global value of a
// filter parameter at execution time.
func (e *Engine) SetParameterProducer(filterName, param string, fn params.Producer) error {
	name, p, err := e.parameter(filterName, param)
	if err != nil {
		return err
	}
	e.store.SetProducer(name, p, fn)
	return nil
}

// EnableFilter enables a filter globally.
func (e *Engine) EnableFilter(filterName string) error {
	name, err := e.filterName(filterName)
	if err != nil {
		return err
	}
	e.store.SetEnabled(name, true)
	return nil
}

// DisableFilter disables a filter globally.
func (e *Engine) DisableFilter(filterName string) error {
	name, err := e.filterName(filterName)
	if err != nil {
		return err
	}
	e.store.SetEnabled(name, false)
	return nil
}

// SaveModelCache writes the registered definitions to a msgpack file.
func (e *Engine) SaveModelCache(path string) error {
	return e.registry.SaveCache(path)
}

// LoadModelCache registers the definitions stored in a msgpack file.
func (e *Engine) LoadModelCache(path string) error {
	defs, err := e.registry.LoadCache(path)
	if err != nil {
		return fmt.Errorf("load model cache: %w", err)
	}
	for _, def := range defs {
		e.applyDefaults(def)
	}
	e.logger.Info("model cache loaded", "path", path, "filters", len(defs))
	return nil
}

// LoadFilters registers the definitions of a YAML filters document.
func (e *Engine) LoadFilters(data []byte) error {
	snap, err := filter.DecodeYAML(data)
	if err != nil {
		return err
	}
	defs, err := e.registry.Restore(snap)
	if err != nil {
		return err
	}
	for _, def := range defs {
		e.applyDefaults(def)
	}
	return nil
}

// ExportFilters encodes the registered definitions as a YAML filters
// document that LoadFilters accepts.
func (e *Engine) ExportFilters() ([]byte, error) {
	return e.registry.EncodeYAML()
}

// Reset drops every definition, value and enabled flag. It is meant for
// tests that swap models.
func (e *Engine) Reset() {
	e.registry.Reset()
	e.store.Reset()
}

// NewSession opens a unit of work. Close it to drop its overrides.
func (e *Engine) NewSession() *Session {
	return &Session{engine: e, scope: e.store.NewScope()}
}

// Query runs tree with global parameter values only.
func (e *Engine) Query(ctx context.Context, tree *Tree) ([]*Record, error) {
	return e.query(ctx, nil, tree)
}

// DescribeParameter maps a synthetic parameter name of a rendered command
// back to its filter and parameter.
func (e *Engine) DescribeParameter(name string) (filterName, param string, ok bool) {
	return e.names.Decode(name)
}

// CreateSchema creates one table per storage unit of the model.
func (e *Engine) CreateSchema(ctx context.Context) error {
	if e.db == nil {
		return domain.ErrConfiguration("engine has no database")
	}
	stmts, err := sqlgen.CreateTables(e.model, e.dialect)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// DropSchema drops the tables CreateSchema creates.
func (e *Engine) DropSchema(ctx context.Context) error {
	if e.db == nil {
		return domain.ErrConfiguration("engine has no database")
	}
	stmts, err := sqlgen.DropTables(e.model)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("drop schema: %w", err)
		}
	}
	return nil
}

func (e *Engine) filterName(filterName string) (string, error) {
	name := filter.NormalizeName(filterName)
	if len(e.registry.Definitions(name)) == 0 {
		return "", domain.ErrNotFound("filter %q not found", filterName)
	}
	return name, nil
}

// parameter resolves a (filter, parameter) pair given by the caller.
func (e *Engine) parameter(filterName, param string) (string, string, error) {
	name, err := e.filterName(filterName)
	if err != nil {
		return "", "", err
	}
	declared := e.registry.Params(name)
	if param == "" {
		if len(declared) != 1 {
			return "", "", domain.ErrConfiguration("filter %q has %d parameters; name the one to set", name, len(declared))
		}
		return name, declared[0], nil
	}
	if !lo.Contains(declared, param) {
		return "", "", domain.ErrNotFound("filter %q has no parameter %q", name, param)
	}
	return name, param, nil
}
