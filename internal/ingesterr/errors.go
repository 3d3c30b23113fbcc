// Package ingesterr defines the error taxonomy shared by the ingestion
// pipelines. Every error carries enough context (stage, session or batch
// identifier) for a caller to retry precisely.
package ingesterr

import (
	"errors"
	"fmt"
)

// Kind classifies an ingestion failure.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindOrdering     Kind = "ordering"
	KindRemoteUpload Kind = "remote_upload"
	KindPersistence  Kind = "persistence"
	KindConcurrency  Kind = "concurrency"
	KindBatch        Kind = "batch"
	KindTimeout      Kind = "timeout"
	KindStorage      Kind = "storage"
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageChunk   Stage = "chunk"
	StageMerge   Stage = "merge"
	StageUpload  Stage = "upload"
	StagePersist Stage = "persist"
	StageImport  Stage = "import"
)

// Error is the concrete error type returned across component boundaries.
type Error struct {
	Kind    Kind
	Stage   Stage
	Subject string // session id or batch label
	Message string

	// Remote provider diagnostics, set for KindRemoteUpload.
	StatusCode int
	Body       string

	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg += " [" + string(e.Stage) + "]"
	}
	if e.Subject != "" {
		msg += " " + e.Subject
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works
// against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Stage == "" && t.Subject == "" && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrOrdering     = &Error{Kind: KindOrdering}
	ErrRemoteUpload = &Error{Kind: KindRemoteUpload}
	ErrPersistence  = &Error{Kind: KindPersistence}
	ErrConcurrency  = &Error{Kind: KindConcurrency}
	ErrBatch        = &Error{Kind: KindBatch}
	ErrTimeout      = &Error{Kind: KindTimeout}
	ErrStorage      = &Error{Kind: KindStorage}
)

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StageOf returns the stage of the first *Error in err's chain.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Subject: field, Message: message}
}

func NotFound(stage Stage, sessionID string) *Error {
	return &Error{Kind: KindNotFound, Stage: stage, Subject: sessionID, Message: "no staged chunks"}
}

func Ordering(sessionID, message string) *Error {
	return &Error{Kind: KindOrdering, Stage: StageMerge, Subject: sessionID, Message: message}
}

func RemoteUpload(sessionID string, status int, body string, cause error) *Error {
	return &Error{
		Kind:       KindRemoteUpload,
		Stage:      StageUpload,
		Subject:    sessionID,
		StatusCode: status,
		Body:       body,
		Err:        cause,
	}
}

func Persistence(sessionID string, cause error) *Error {
	return &Error{Kind: KindPersistence, Stage: StagePersist, Subject: sessionID, Err: cause}
}

func Concurrency(sessionID string) *Error {
	return &Error{Kind: KindConcurrency, Subject: sessionID, Message: "completion already in progress"}
}

func Batch(index int64, cause error) *Error {
	return &Error{Kind: KindBatch, Stage: StageImport, Subject: fmt.Sprintf("batch %d", index), Err: cause}
}

func Timeout(stage Stage, subject string, cause error) *Error {
	return &Error{Kind: KindTimeout, Stage: stage, Subject: subject, Message: "operation timed out", Err: cause}
}

func Storage(stage Stage, subject string, cause error) *Error {
	return &Error{Kind: KindStorage, Stage: stage, Subject: subject, Err: cause}
}

// Stamp sets stage and subject on err when it is an *Error that lacks them,
// and wraps any other error as a storage failure of that stage.
func Stamp(err error, stage Stage, subject string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Stage == "" {
			e.Stage = stage
		}
		if e.Subject == "" {
			e.Subject = subject
		}
		return err
	}
	return Storage(stage, subject, err)
}
