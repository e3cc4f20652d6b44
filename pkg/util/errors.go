// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors. Every run-fatal condition unwraps to one of these.
var (
	ErrConfigurationMissing = errors.New("required configuration missing")
	ErrValidationFailed     = errors.New("validation failed")
	ErrNoData               = errors.New("no traffic data available")
	ErrStaleData            = errors.New("traffic data is stale")
	ErrFetchFailed          = errors.New("fetching top prefixes failed")
	ErrShrinkTooLarge       = errors.New("prefix list shrink too large")
	ErrCapacityExceeded     = errors.New("prefix list capacity exceeded")
	ErrPersistedListCorrupt = errors.New("persisted prefix list corrupt")
	ErrListNotPersisted     = errors.New("prefix list not persisted")
	ErrPurgeFailed          = errors.New("purging old data failed")
	ErrInstallFailed        = errors.New("installing prefix list failed")
	ErrRunLocked            = errors.New("another run is in progress")
)

// ConfigurationMissingError names every required option that was not set
type ConfigurationMissingError struct {
	Keys []string
}

func (e *ConfigurationMissingError) Error() string {
	return "the following configuration variables are not defined: " + strings.Join(e.Keys, ", ")
}

func (e *ConfigurationMissingError) Unwrap() error {
	return ErrConfigurationMissing
}

// NewConfigurationMissingError creates a configuration-missing error
func NewConfigurationMissingError(keys ...string) *ConfigurationMissingError {
	return &ConfigurationMissingError{Keys: keys}
}

// StaleDataError is returned by the freshness gate
type StaleDataError struct {
	End time.Time
	Age time.Duration
	Max time.Duration
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("data is %s old (limit %s): %s",
		e.Age.Truncate(time.Minute), e.Max, e.End.Format("2006-01-02T15:04:05"))
}

func (e *StaleDataError) Unwrap() error {
	return ErrStaleData
}

// FetchFailedError reports a class for which the analytics service returned nothing usable
type FetchFailedError struct {
	Class string
	Err   error
}

func (e *FetchFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("error getting top prefixes for %s: %v", e.Class, e.Err)
	}
	return fmt.Sprintf("error getting top prefixes for %s: empty response", e.Class)
}

// Unwrap exposes both the sentinel and the transport cause.
func (e *FetchFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFetchFailed}
	}
	return []error{ErrFetchFailed, e.Err}
}

// ShrinkTooLargeError rejects a candidate set drastically smaller than the installed list
type ShrinkTooLargeError struct {
	Existing   int
	Candidates int
}

func (e *ShrinkTooLargeError) Error() string {
	return fmt.Sprintf("new prefix list (%d) is more than 25%% smaller than the old one (%d)",
		e.Candidates, e.Existing)
}

func (e *ShrinkTooLargeError) Unwrap() error {
	return ErrShrinkTooLarge
}

// CapacityExceededError reports that fresh prefixes outnumber the free sequence slots
type CapacityExceededError struct {
	Needed    int
	Available int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("need %d sequence numbers, only %d available", e.Needed, e.Available)
}

func (e *CapacityExceededError) Unwrap() error {
	return ErrCapacityExceeded
}

// CorruptListError points at the first malformed line of a stored prefix list
type CorruptListError struct {
	Path   string
	Line   int
	Text   string
	Reason string
}

func (e *CorruptListError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %q", e.Path, e.Line, e.Reason, e.Text)
}

func (e *CorruptListError) Unwrap() error {
	return ErrPersistedListCorrupt
}

// ListNotFoundError reports a class that has no stored prefix list yet
type ListNotFoundError struct {
	Class string
	Path  string
}

func (e *ListNotFoundError) Error() string {
	return fmt.Sprintf("no stored %s prefix list at %s", e.Class, e.Path)
}

func (e *ListNotFoundError) Unwrap() error {
	return ErrListNotPersisted
}

// PurgeFailedError reports which retention purge the analytics service rejected
type PurgeFailedError struct {
	Kind string
	Err  error
}

func (e *PurgeFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("error purging %s data: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("error purging %s data", e.Kind)
}

func (e *PurgeFailedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPurgeFailed}
	}
	return []error{ErrPurgeFailed, e.Err}
}

// InstallFailedError reports a device push failure for one class
type InstallFailedError struct {
	Class string
	Err   error
}

func (e *InstallFailedError) Error() string {
	return fmt.Sprintf("installing %s prefix list: %v", e.Class, e.Err)
}

func (e *InstallFailedError) Unwrap() []error {
	return []error{ErrInstallFailed, e.Err}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
