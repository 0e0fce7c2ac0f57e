package pipeline

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorClass drives the pipeline's recovery choice for a failed commit.
type ErrorClass int

const (
	// ClassTransient errors (lock contention, serialization failures) are
	// retried with backoff.
	ClassTransient ErrorClass = iota
	// ClassStaleReference errors are recovered by re-resolving the
	// referenced entities once, then retrying exactly once more.
	ClassStaleReference
	// ClassValidation errors are fatal per batch: offending waypoints are
	// dropped and the valid remainder is committed.
	ClassValidation
	// ClassUnavailable routes the entire batch to the outbox.
	ClassUnavailable
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassStaleReference:
		return "stale-reference"
	case ClassValidation:
		return "validation"
	default:
		return "unavailable"
	}
}

// Classify maps a store error to its recovery class.
func Classify(err error) ErrorClass {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "55P03" || pgErr.Code == "57014":
			return ClassTransient
		case pgErr.Code == "23503":
			return ClassStaleReference
		case strings.HasPrefix(pgErr.Code, "23") || strings.HasPrefix(pgErr.Code, "22"):
			return ClassValidation
		case strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53") || strings.HasPrefix(pgErr.Code, "57"):
			return ClassUnavailable
		}
		return ClassUnavailable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTransient
		}
		return ClassUnavailable
	}

	return ClassUnavailable
}
