package domain

import "fmt"

// ConfigurationError indicates the convergence request is misconfigured,
// e.g. a merge strategy was selected without a unique key.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// SchemaIncompatibleError indicates an incoming column type cannot be
// reconciled with the existing column type.
type SchemaIncompatibleError struct {
	Message string
}

func (e *SchemaIncompatibleError) Error() string { return e.Message }

// MergeConflictError indicates a constraint or merge failure reported
// by the warehouse during an upsert.
type MergeConflictError struct {
	Message string
}

func (e *MergeConflictError) Error() string { return e.Message }

// HookExecutionError indicates a pre- or post-hook statement failed.
type HookExecutionError struct {
	Message string
}

func (e *HookExecutionError) Error() string { return e.Message }

// TransactionAbortError indicates a transaction could not be committed
// or rolled back cleanly.
type TransactionAbortError struct {
	Message string
}

func (e *TransactionAbortError) Error() string { return e.Message }

// CleanupWarning records a failed post-commit disposal of an ephemeral
// relation. Cleanup failures never fail the overall convergence.
type CleanupWarning struct {
	Relation RelationRef
	Cause    error
}

func (w *CleanupWarning) Error() string {
	return fmt.Sprintf("cleanup of %s failed: %v", w.Relation, w.Cause)
}

func (w *CleanupWarning) Unwrap() error { return w.Cause }

// ErrConfiguration creates a ConfigurationError with a formatted message.
func ErrConfiguration(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// ErrSchemaIncompatible creates a SchemaIncompatibleError with a formatted message.
func ErrSchemaIncompatible(format string, args ...interface{}) *SchemaIncompatibleError {
	return &SchemaIncompatibleError{Message: fmt.Sprintf(format, args...)}
}

// ErrMergeConflict creates a MergeConflictError with a formatted message.
func ErrMergeConflict(format string, args ...interface{}) *MergeConflictError {
	return &MergeConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrHookExecution creates a HookExecutionError with a formatted message.
func ErrHookExecution(format string, args ...interface{}) *HookExecutionError {
	return &HookExecutionError{Message: fmt.Sprintf(format, args...)}
}

// ErrTransactionAbort creates a TransactionAbortError with a formatted message.
func ErrTransactionAbort(format string, args ...interface{}) *TransactionAbortError {
	return &TransactionAbortError{Message: fmt.Sprintf(format, args...)}
}
