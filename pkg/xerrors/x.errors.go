package xerrors

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation    = "23505"
	pgCheckViolation     = "23514"
	pgDataExceptionClass = "22"
)

// ParsePGErrorCode returns the SQLSTATE of a postgres error, or "unknown".
func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

func IsUniqueViolation(err error) bool {
	return ParsePGErrorCode(err) == pgUniqueViolation
}

// IsInvalidData reports a row postgres refused for its values (class 22 data
// exceptions such as 22001 string_data_right_truncation, or a CHECK violation),
// as opposed to an unreachable or failing database.
func IsInvalidData(err error) bool {
	code := ParsePGErrorCode(err)
	return code == pgCheckViolation || strings.HasPrefix(code, pgDataExceptionClass)
}

// Store
var (
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Review submission rejections
var (
	ErrMalformedInput          = errors.New("malformed input")
	ErrOrderServiceUnavailable = errors.New("order service unavailable")
	ErrOrderNotFound           = errors.New("order not found")
	ErrForbidden               = errors.New("forbidden")
	ErrInvalidOrderState       = errors.New("invalid order state")
	ErrConflict                = errors.New("conflict")
	ErrStorageUnavailable      = errors.New("storage unavailable")
	ErrRateLimited             = errors.New("rate limited")
)

// Rejection carries a caller-visible message on top of one of the sentinels above.
type Rejection struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Rejection) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Is lets errors.Is match both the kind and the wrapped cause.
func (e *Rejection) Is(target error) bool {
	return e.Kind == target
}

func (e *Rejection) Unwrap() error { return e.Err }

func Reject(kind error, msg string) *Rejection {
	return &Rejection{Kind: kind, Msg: msg}
}

func RejectWrap(kind error, msg string, err error) *Rejection {
	return &Rejection{Kind: kind, Msg: msg, Err: err}
}

// Message returns the caller-visible text for err.
func Message(err error) string {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Error()
	}
	return err.Error()
}

var codes = []struct {
	kind error
	code string
}{
	{ErrMalformedInput, "malformed_input"},
	{ErrOrderServiceUnavailable, "order_service_unavailable"},
	{ErrOrderNotFound, "order_not_found"},
	{ErrForbidden, "forbidden"},
	{ErrInvalidOrderState, "invalid_order_state"},
	{ErrConflict, "conflict"},
	{ErrStorageUnavailable, "storage_unavailable"},
	{ErrRateLimited, "rate_limited"},
}

// Code returns the stable machine-readable code of err's rejection kind,
// or "internal" when err is not a known rejection.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return "internal"
}
