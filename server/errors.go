package main

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
	// ErrInvariant marks membership state that should be impossible, e.g. a stage with no owner row.
	ErrInvariant = errors.New("membership invariant violated")
)

// ValidationError is bad or inconsistent input. Nothing was written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, msg string) error { return &ValidationError{Field: field, Message: msg} }

// MemberBatchError rejects a whole add-members request.
type MemberBatchError struct {
	NotFound []int64 `json:"user_ids_not_found"`
	Existed  []int64 `json:"user_ids_existed"`
}

func (e *MemberBatchError) Error() string {
	return fmt.Sprintf("users not found or already in project (not found %v, existed %v)", e.NotFound, e.Existed)
}

// GuardError is a refused delete or removal. IDs name the entities blocking it.
type GuardError struct {
	Reason string
	Kind   string
	IDs    []int64
}

func (e *GuardError) Error() string {
	if len(e.IDs) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s (%s %v)", e.Reason, e.Kind, e.IDs)
}

func guard(reason, kind string, ids []int64) error {
	return &GuardError{Reason: reason, Kind: kind, IDs: ids}
}

// MailError is a failed notification. The surrounding operation is rolled back.
type MailError struct {
	To  string
	Err error
}

func (e *MailError) Error() string { return "send mail to " + e.To + ": " + e.Err.Error() }

func (e *MailError) Unwrap() error { return e.Err }
