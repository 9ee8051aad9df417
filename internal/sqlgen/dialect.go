// Package sqlgen lowers store-level plans to SQL text for a dialect.
package sqlgen

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"dynfilter/internal/ddl"
	"dynfilter/plan"
)

// Capabilities are the backend facts the rewriting passes depend on.
type Capabilities struct {
	// FirstRowReduction is set when a filtered relation can be reduced to
	// its first row inside a join (LEFT JOIN LATERAL ... LIMIT 1).
	FirstRowReduction bool
	// BoolAsNumeric is set when booleans are stored as numbers, so that
	// boolean comparisons go through an integer cast.
	BoolAsNumeric bool
	// MaxIdentifierLength bounds identifiers and parameter names; zero means
	// unbounded.
	MaxIdentifierLength int
}

// Value is a bound parameter value.
type Value struct {
	Name  string
	Value any
}

// Dialect renders the backend-specific parts of a statement.
type Dialect interface {
	Name() string
	Capabilities() Capabilities
	QuoteIdent(name string) string
	// Placeholder renders a reference to the named parameter.
	Placeholder(name string, t plan.Type) string
	// Literal renders v as an inline SQL literal of type t.
	Literal(v any, t plan.Type) (string, error)
	// CastType names t in a CAST expression.
	CastType(t plan.Type) string
	// ColumnType names t in a column definition.
	ColumnType(t plan.Type) string
	// Contains renders a substring test.
	Contains(expr, pattern string) string
	// EmptySet renders the right-hand side of an IN test that matches nothing.
	EmptySet() string
	// Args converts bound values to database/sql arguments.
	Args(values []Value) []any
}

// DialectByName returns the named dialect: sqlite, duckdb or postgres.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "", "sqlite", "sqlite3":
		return SQLite{}, nil
	case "duckdb":
		return DuckDB{}, nil
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

// WithCapabilities overrides the capabilities of a dialect.
func WithCapabilities(d Dialect, caps Capabilities) Dialect {
	return capDialect{Dialect: d, caps: caps}
}

type capDialect struct {
	Dialect
	caps Capabilities
}

func (c capDialect) Capabilities() Capabilities { return c.caps }

// SQLite renders for mattn/go-sqlite3: @name parameters, booleans as
// integers, no lateral joins.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Capabilities() Capabilities {
	return Capabilities{BoolAsNumeric: true}
}

func (SQLite) QuoteIdent(name string) string { return ddl.QuoteIdentifier(name) }

func (SQLite) Placeholder(name string, _ plan.Type) string { return "@" + name }

func (SQLite) Literal(v any, t plan.Type) (string, error) {
	return literal(v, t, literalStyle{
		boolean: func(b bool) string {
			if b {
				return "1"
			}
			return "0"
		},
		timestamp: func(ts time.Time) string {
			return ddl.QuoteLiteral(ts.Format("2006-01-02 15:04:05.999999999-07:00"))
		},
		guid: func(u uuid.UUID) string { return ddl.QuoteLiteral(u.String()) },
		blob: func(b []byte) string { return "X'" + hex.EncodeToString(b) + "'" },
	})
}

func (SQLite) CastType(t plan.Type) string {
	switch {
	case t.Kind == plan.KindBool, t.Kind >= plan.KindInt8 && t.Kind <= plan.KindUint64:
		return "INTEGER"
	case t.Kind == plan.KindFloat32, t.Kind == plan.KindFloat64:
		return "REAL"
	case t.Kind == plan.KindBinary:
		return "BLOB"
	}
	return "TEXT"
}

func (d SQLite) ColumnType(t plan.Type) string {
	switch t.Kind {
	case plan.KindBool:
		return "BOOLEAN"
	case plan.KindDateTime:
		return "TIMESTAMP"
	}
	return d.CastType(t)
}

func (SQLite) Contains(expr, pattern string) string {
	return fmt.Sprintf("instr(%s, %s) > 0", expr, pattern)
}

func (SQLite) EmptySet() string { return "()" }

func (SQLite) Args(values []Value) []any {
	return namedArgs(values)
}

// DuckDB renders for duckdb-go: $name parameters wrapped in typed casts,
// lateral joins.
type DuckDB struct{}

func (DuckDB) Name() string { return "duckdb" }

func (DuckDB) Capabilities() Capabilities {
	return Capabilities{FirstRowReduction: true}
}

func (DuckDB) QuoteIdent(name string) string { return ddl.QuoteIdentifier(name) }

func (d DuckDB) Placeholder(name string, t plan.Type) string {
	return fmt.Sprintf("CAST($%s AS %s)", name, d.CastType(t))
}

func (d DuckDB) Literal(v any, t plan.Type) (string, error) {
	return literal(v, t, literalStyle{
		boolean: upperBool,
		timestamp: func(ts time.Time) string {
			return "TIMESTAMP " + ddl.QuoteLiteral(ts.UTC().Format("2006-01-02 15:04:05.999999"))
		},
		guid: func(u uuid.UUID) string { return "UUID " + ddl.QuoteLiteral(u.String()) },
		blob: func(b []byte) string { return "from_hex(" + ddl.QuoteLiteral(hex.EncodeToString(b)) + ")" },
	})
}

var duckdbTypes = map[plan.Kind]string{
	plan.KindBool:     "BOOLEAN",
	plan.KindInt8:     "TINYINT",
	plan.KindInt16:    "SMALLINT",
	plan.KindInt32:    "INTEGER",
	plan.KindInt64:    "BIGINT",
	plan.KindUint8:    "UTINYINT",
	plan.KindUint16:   "USMALLINT",
	plan.KindUint32:   "UINTEGER",
	plan.KindUint64:   "UBIGINT",
	plan.KindFloat32:  "FLOAT",
	plan.KindFloat64:  "DOUBLE",
	plan.KindString:   "VARCHAR",
	plan.KindBinary:   "BLOB",
	plan.KindDateTime: "TIMESTAMP",
	plan.KindGuid:     "UUID",
}

func (DuckDB) CastType(t plan.Type) string {
	if name, ok := duckdbTypes[t.Kind]; ok {
		return name
	}
	return "VARCHAR"
}

func (d DuckDB) ColumnType(t plan.Type) string { return d.CastType(t) }

func (DuckDB) Contains(expr, pattern string) string {
	return fmt.Sprintf("instr(%s, %s) > 0", expr, pattern)
}

func (DuckDB) EmptySet() string { return "(NULL)" }

func (DuckDB) Args(values []Value) []any {
	return namedArgs(values)
}

// Postgres renders for pgx: @name parameters bound through pgx.NamedArgs,
// identifiers sanitized by pgx, lateral joins.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Capabilities() Capabilities {
	return Capabilities{FirstRowReduction: true, MaxIdentifierLength: 63}
}

func (Postgres) QuoteIdent(name string) string { return pgx.Identifier{name}.Sanitize() }

func (d Postgres) Placeholder(name string, t plan.Type) string {
	return fmt.Sprintf("CAST(@%s AS %s)", name, d.CastType(t))
}

func (Postgres) Literal(v any, t plan.Type) (string, error) {
	return literal(v, t, literalStyle{
		boolean:   upperBool,
		timestamp: func(ts time.Time) string { return ddl.QuoteLiteral(ts.Format(time.RFC3339Nano)) + "::timestamptz" },
		guid:      func(u uuid.UUID) string { return ddl.QuoteLiteral(u.String()) + "::uuid" },
		blob:      func(b []byte) string { return "'\\x" + hex.EncodeToString(b) + "'::bytea" },
	})
}

var postgresTypes = map[plan.Kind]string{
	plan.KindBool:     "boolean",
	plan.KindInt8:     "smallint",
	plan.KindInt16:    "smallint",
	plan.KindInt32:    "integer",
	plan.KindInt64:    "bigint",
	plan.KindUint8:    "smallint",
	plan.KindUint16:   "integer",
	plan.KindUint32:   "bigint",
	plan.KindUint64:   "numeric",
	plan.KindFloat32:  "real",
	plan.KindFloat64:  "double precision",
	plan.KindString:   "text",
	plan.KindBinary:   "bytea",
	plan.KindDateTime: "timestamptz",
	plan.KindGuid:     "uuid",
}

func (Postgres) CastType(t plan.Type) string {
	if name, ok := postgresTypes[t.Kind]; ok {
		return name
	}
	return "text"
}

func (d Postgres) ColumnType(t plan.Type) string { return d.CastType(t) }

func (Postgres) Contains(expr, pattern string) string {
	return fmt.Sprintf("strpos(%s, %s) > 0", expr, pattern)
}

func (Postgres) EmptySet() string { return "(NULL)" }

func (Postgres) Args(values []Value) []any {
	args := make(pgx.NamedArgs, len(values))
	for _, v := range values {
		args[v.Name] = v.Value
	}
	return []any{args}
}

func upperBool(b bool) string { return strings.ToUpper(strconv.FormatBool(b)) }

func namedArgs(values []Value) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = sql.Named(v.Name, v.Value)
	}
	return out
}

type literalStyle struct {
	boolean   func(bool) string
	timestamp func(time.Time) string
	guid      func(uuid.UUID) string
	blob      func([]byte) string
}

// literal renders the dialect-independent literal forms and defers the rest
// to style.
func literal(v any, t plan.Type, style literalStyle) (string, error) {
	if v == nil {
		return "NULL", nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "NULL", nil
		}
		rv = rv.Elem()
	}
	switch x := rv.Interface().(type) {
	case time.Time:
		return style.timestamp(x), nil
	case uuid.UUID:
		return style.guid(x), nil
	case []byte:
		return style.blob(x), nil
	}
	switch rv.Kind() {
	case reflect.Bool:
		return style.boolean(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return "", fmt.Errorf("literal %v of type %s has no SQL form", f, t)
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	case reflect.String:
		return ddl.QuoteLiteral(rv.String()), nil
	}
	return "", fmt.Errorf("literal of Go type %T for %s", v, t)
}
