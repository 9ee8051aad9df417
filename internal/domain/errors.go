// Package domain defines the error taxonomy and context helpers shared by the
// dynamic filter engine.
package domain

import "fmt"

// NotFoundError indicates an unknown filter, entity, or parameter.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ConfigurationError indicates an invalid filter declaration: a bad name, an
// unsupported predicate or parameter shape, or a duplicate registration.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// TranslationError indicates a filter that cannot be translated against the
// plan it was applied to, such as an unresolvable member or a navigation
// without foreign-key metadata.
type TranslationError struct {
	Filter  string
	Message string
}

func (e *TranslationError) Error() string {
	if e.Filter == "" {
		return e.Message
	}
	return fmt.Sprintf("filter %q: %s", e.Filter, e.Message)
}

// NotImplementedError names a predicate construct outside the supported set.
type NotImplementedError struct {
	Construct string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("not implemented: %s", e.Construct)
}

// UnhandledTypeError indicates a constant or parameter whose Go type has no
// plan-level equivalent.
type UnhandledTypeError struct {
	Type string
}

func (e *UnhandledTypeError) Error() string {
	return fmt.Sprintf("unhandled type: %s", e.Type)
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrConfiguration creates a ConfigurationError with a formatted message.
func ErrConfiguration(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// ErrTranslation creates a TranslationError for the named filter.
func ErrTranslation(filter, format string, args ...interface{}) *TranslationError {
	return &TranslationError{Filter: filter, Message: fmt.Sprintf(format, args...)}
}

// ErrNotImplemented creates a NotImplementedError naming the construct.
func ErrNotImplemented(format string, args ...interface{}) *NotImplementedError {
	return &NotImplementedError{Construct: fmt.Sprintf(format, args...)}
}

// ErrUnhandledType creates an UnhandledTypeError for the given type name.
func ErrUnhandledType(typeName string) *UnhandledTypeError {
	return &UnhandledTypeError{Type: typeName}
}
