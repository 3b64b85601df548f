package errors

import (
	"fmt"
	"time"
)

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// Sync errors

// ErrAuthorizationRequired means there is no usable credential: either no
// token exists or the provider rejected the refresh credential. It is
// terminal until a fresh authorization-code exchange is performed.
type ErrAuthorizationRequired struct {
	Provider string
	Reason   string
}

func (e *ErrAuthorizationRequired) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("authorization required for %s: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("authorization required for %s", e.Provider)
}

// ErrTransientNetwork wraps a timeout or connection failure on a single
// call. Callers may retry it without deactivating credentials.
type ErrTransientNetwork struct {
	Operation string
	Err       error
}

func (e *ErrTransientNetwork) Error() string {
	return fmt.Sprintf("transient network failure during %s: %v", e.Operation, e.Err)
}

func (e *ErrTransientNetwork) Unwrap() error {
	return e.Err
}

// ErrRateLimited is the provider's throttling signal (HTTP 429). The sync
// engine pauses for a cooldown and resumes the same operation.
type ErrRateLimited struct {
	RetryAfter time.Duration
	Message    string
}

func (e *ErrRateLimited) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit exceeded"
}

// ErrPersistenceConflict is a uniqueness-constraint violation on write.
// Upsert semantics make it recoverable, never fatal.
type ErrPersistenceConflict struct {
	Entity     string
	ExternalID string
	Err        error
}

func (e *ErrPersistenceConflict) Error() string {
	return fmt.Sprintf("persistence conflict for %s %s: %v", e.Entity, e.ExternalID, e.Err)
}

func (e *ErrPersistenceConflict) Unwrap() error {
	return e.Err
}

// ErrDataShape marks a fetched entity with a malformed or missing field.
// The record is skipped and counted as failed.
type ErrDataShape struct {
	Entity string
	Field  string
	Err    error
}

func (e *ErrDataShape) Error() string {
	return fmt.Sprintf("malformed %s entity (field %s): %v", e.Entity, e.Field, e.Err)
}

func (e *ErrDataShape) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}
