package lookupd

import (
	"errors"
	"fmt"
)

// Error codes mirror the taxonomy a system resolver reports through
// getaddrinfo-style error codes, plus a handful the controller owns.
const (
	CodeNotFound            = "NOTFOUND"
	CodeNoData              = "NODATA"
	CodeServFail            = "SERVFAIL"
	CodeRefused             = "REFUSED"
	CodeConnRefused         = "CONNREFUSED"
	CodeTimeout             = "TIMEOUT"
	CodeBadFamily           = "BADFAMILY"
	CodeBadName             = "BADNAME"
	CodeBadQuery            = "BADQUERY"
	CodeBadResp             = "BADRESP"
	CodeBadFlags            = "BADFLAGS"
	CodeBadHints            = "BADHINTS"
	CodeCancelled           = "CANCELLED"
	CodeFormErr             = "FORMERR"
	CodeNoMem               = "NOMEM"
	CodeNoName              = "NONAME"
	CodeNotImp              = "NOTIMP"
	CodeNotInitialized      = "NOTINITIALIZED"
	codeEmptyArray          = "EMPTY_ARRAY" // internal only, must never escape the controller
	CodeHostsNotFound       = "HOSTS_NOT_FOUND"
	CodeHostsNotReadable    = "HOSTS_NOT_READABLE"
	CodeHostsParseError     = "HOSTS_PARSE_ERROR"
	CodeUnsupportedPlatform = "UNSUPPORTED_PLATFORM"
)

// LookupError is the error type surfaced by lookups and by the resolver,
// hosts source and throttle; ParseFamily and the persistence file I/O
// return plain errors. Code is one of the Code* constants above; Host is
// the name the operation was attempting to resolve, when known.
type LookupError struct {
	Code string
	Host string
	Err  error
}

func (e *LookupError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("lookupd: %s", e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("lookupd: %s %s: %v", e.Code, e.Host, e.Err)
	}
	return fmt.Sprintf("lookupd: %s %s", e.Code, e.Host)
}

func (e *LookupError) Unwrap() error { return e.Err }

// NewLookupError builds a *LookupError for code and host, optionally wrapping
// a lower-level error.
func NewLookupError(code, host string, err error) *LookupError {
	return &LookupError{Code: code, Host: host, Err: err}
}

// CodeOf extracts the taxonomy code from err, if err is or wraps a
// *LookupError. Unknown errors report ok=false, matching the failover
// policy's "unknown error -> both return false" rule.
func CodeOf(err error) (code string, ok bool) {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Code, true
	}
	return "", false
}

var errEmptyArray = &LookupError{Code: codeEmptyArray}
