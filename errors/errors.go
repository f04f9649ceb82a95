// Package errors provides the typed errors returned while locating and
// reassembling split DICOM instances.
package errors

import (
	"errors"
	"fmt"
)

// Common errors, matched with errors.Is against the typed errors below
var (
	ErrNotFound        = errors.New("dicomstitch: entry not found")
	ErrArchiveRead     = errors.New("dicomstitch: archive read failed")
	ErrMalformedHeader = errors.New("dicomstitch: malformed header")
	ErrReassembly      = errors.New("dicomstitch: reassembly failed")
)

// Half names the step of a retrieval a failure is attributed to
type Half string

const (
	HalfHeader     Half = "header"
	HalfPixel      Half = "pixel"
	HalfReassembly Half = "reassembly"
)

// NotFoundError is returned when no archive in a directory holds an entry
type NotFoundError struct {
	Dir  string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found in any archive under %s", e.Name, e.Dir)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(dir, name string) *NotFoundError {
	return &NotFoundError{Dir: dir, Name: name}
}

// ArchiveReadError represents an archive directory or file that could not be
// opened or scanned. Corruption is not transient, so callers should not retry.
type ArchiveReadError struct {
	Dir     string
	Archive string // empty when the directory itself could not be read
	Name    string
	Err     error
}

func (e *ArchiveReadError) Error() string {
	if e.Archive == "" {
		return fmt.Sprintf("reading archive directory %s (looking for %s): %v", e.Dir, e.Name, e.Err)
	}
	return fmt.Sprintf("reading archive %s (looking for %s): %v", e.Archive, e.Name, e.Err)
}

func (e *ArchiveReadError) Unwrap() error {
	return e.Err
}

func (e *ArchiveReadError) Is(target error) bool {
	return target == ErrArchiveRead
}

// NewArchiveReadError creates a new archive read error
func NewArchiveReadError(dir, archive, name string, err error) *ArchiveReadError {
	return &ArchiveReadError{
		Dir:     dir,
		Archive: archive,
		Name:    name,
		Err:     err,
	}
}

// MalformedHeaderError is returned when header bytes cannot be decoded into a dataset
type MalformedHeaderError struct {
	Err error
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("malformed header: %v", e.Err)
}

func (e *MalformedHeaderError) Unwrap() error {
	return e.Err
}

func (e *MalformedHeaderError) Is(target error) bool {
	return target == ErrMalformedHeader
}

// NewMalformedHeaderError creates a new malformed header error
func NewMalformedHeaderError(err error) *MalformedHeaderError {
	return &MalformedHeaderError{Err: err}
}

// ReassemblyError is returned when a decoded header cannot be written as a
// Part 10 file, typically because a mandatory field is missing.
type ReassemblyError struct {
	Msg string
	Err error
}

func (e *ReassemblyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("reassembly failed: %s", e.Msg)
	}
	return fmt.Sprintf("reassembly failed: %s: %v", e.Msg, e.Err)
}

func (e *ReassemblyError) Unwrap() error {
	return e.Err
}

func (e *ReassemblyError) Is(target error) bool {
	return target == ErrReassembly
}

// NewReassemblyError creates a new reassembly error
func NewReassemblyError(msg string, err error) *ReassemblyError {
	return &ReassemblyError{Msg: msg, Err: err}
}

// RecordNotFoundError reports which half of a record is missing for a SOP Instance UID
type RecordNotFoundError struct {
	UID  string
	Half Half
	Err  *NotFoundError
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("%s half of %s not found: %v", e.Half, e.UID, e.Err)
}

func (e *RecordNotFoundError) Unwrap() error {
	return e.Err
}

// NewRecordNotFoundError creates a new record not found error
func NewRecordNotFoundError(uid string, half Half, err *NotFoundError) *RecordNotFoundError {
	return &RecordNotFoundError{UID: uid, Half: half, Err: err}
}

// HalfError attributes any other retrieval failure to one half
type HalfError struct {
	UID  string
	Half Half
	Err  error
}

func (e *HalfError) Error() string {
	return fmt.Sprintf("%s half of %s: %v", e.Half, e.UID, e.Err)
}

func (e *HalfError) Unwrap() error {
	return e.Err
}

// NewHalfError creates a new half error
func NewHalfError(uid string, half Half, err error) *HalfError {
	return &HalfError{UID: uid, Half: half, Err: err}
}

// HalfOf returns the half a retrieval error is attributed to. Errors carrying
// no attribution of their own are reassembly failures when they match
// ErrMalformedHeader or ErrReassembly, and unattributed otherwise.
func HalfOf(err error) (Half, bool) {
	var notFound *RecordNotFoundError
	if errors.As(err, &notFound) {
		return notFound.Half, true
	}
	var halfErr *HalfError
	if errors.As(err, &halfErr) {
		return halfErr.Half, true
	}
	if errors.Is(err, ErrMalformedHeader) || errors.Is(err, ErrReassembly) {
		return HalfReassembly, true
	}
	return "", false
}

// TimeoutError represents an archive scan that exceeded its deadline
type TimeoutError struct {
	Operation string
	Duration  string
	Err       error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %s", e.Operation, e.Duration)
}

func (e *TimeoutError) Timeout() bool {
	return true
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(operation, duration string, err error) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Duration:  duration,
		Err:       err,
	}
}
