package streamstore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors. Callers match on these with errors.Is (or the IsX
// helpers); the store wraps them with operation context.
var (
	// ErrInvalidParameter reports a request rejected before any I/O.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrConcurrency reports an expected-version mismatch, after retries
	// where retries apply.
	ErrConcurrency = errors.New("concurrent write detected")

	// ErrDisposed reports a write attempted after Dispose began.
	ErrDisposed = errors.New("store is disposed")

	// ErrInconsistentStreamType reports a write targeting a stream whose
	// stored type differs. Reserved; enforced by storage.
	ErrInconsistentStreamType = errors.New("inconsistent stream type")

	// ErrVersionConflict is returned by Driver.DeleteStream when the
	// expected-version check failed inside the storage transaction.
	ErrVersionConflict = errors.New("expected version conflict")
)

// ValidationError is an ErrInvalidParameter with the offending field.
// Its message has a stable shape, e.g. "streamId is required" or
// "messageId must be a UUID", so callers can match on it.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e ValidationError) Unwrap() error { return ErrInvalidParameter }

func invalidf(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

// DuplicateMessageError reports that a message id was already present
// somewhere in the store.
type DuplicateMessageError struct {
	MessageID uuid.UUID
}

func (e DuplicateMessageError) Error() string {
	return fmt.Sprintf("duplicate message id %s", e.MessageID)
}

// IsInvalidParameter reports whether err represents ErrInvalidParameter.
func IsInvalidParameter(err error) bool { return errors.Is(err, ErrInvalidParameter) }

// IsConcurrency reports whether err represents ErrConcurrency.
func IsConcurrency(err error) bool { return errors.Is(err, ErrConcurrency) }

// IsDisposed reports whether err represents ErrDisposed.
func IsDisposed(err error) bool { return errors.Is(err, ErrDisposed) }

// IsDuplicateMessage reports whether err is a DuplicateMessageError.
func IsDuplicateMessage(err error) bool {
	var de DuplicateMessageError
	return errors.As(err, &de)
}

// Unique-constraint names the append classification relies on. They must
// match the DDL in the pg subpackage.
const (
	constraintStreamID      = "stream_id_key"
	constraintStreamVersion = "message_stream_id_internal_stream_version_unique"
	constraintMessageID     = "message_message_id_key"
)

const pgUniqueViolation = "23505"

// detailIDRe extracts the offending value from a unique-violation detail of
// the form `Key (message_id)=(...) already exists.`.
var detailIDRe = regexp.MustCompile(`=\(([^)]+)\)`)

// classifyWriteError maps a storage failure from an append-shaped operation
// onto the error taxonomy. Unclassified errors pass through unchanged.
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVersionConflict) {
		return ErrConcurrency
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}

	switch strings.ToLower(strings.TrimSpace(pgErr.ConstraintName)) {
	case constraintStreamID, constraintStreamVersion:
		// Two appends raced on the same stream slot.
		return ErrConcurrency
	case constraintMessageID:
		return DuplicateMessageError{MessageID: duplicateID(pgErr.Detail)}
	default:
		return err
	}
}

func duplicateID(detail string) uuid.UUID {
	m := detailIDRe.FindStringSubmatch(detail)
	if m == nil {
		return uuid.Nil
	}
	id, err := uuid.Parse(strings.TrimSpace(m[1]))
	if err != nil {
		return uuid.Nil
	}
	return id
}
