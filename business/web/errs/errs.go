// Package errs provides types and support related to web v1 functionality.
package errs

import (
	"errors"
	"net/http"

	"github.com/ardanlabs/encloud/foundation/cloud/codec"
	"github.com/ardanlabs/encloud/foundation/cloud/identity"
	"github.com/ardanlabs/encloud/foundation/cloud/journal"
	"github.com/ardanlabs/encloud/foundation/cloud/state"
	"github.com/ardanlabs/encloud/foundation/validate"
)

// Response is the form used for API responses from failures in the API.
type Response struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Trusted is used to pass an error during the request through the
// application with web specific context.
type Trusted struct {
	Err    error
	Status int
}

// NewTrusted wraps a provided error with an HTTP status code. This
// function should be used when handlers encounter expected errors.
func NewTrusted(err error, status int) error {
	return &Trusted{err, status}
}

// Error implements the error interface. It uses the default message of the
// wrapped error. This is what will be shown in the services' logs.
func (re *Trusted) Error() string {
	return re.Err.Error()
}

// Unwrap gives errors.Is access to the wrapped error.
func (re *Trusted) Unwrap() error {
	return re.Err
}

// IsTrusted checks if an error of type Trusted exists.
func IsTrusted(err error) bool {
	var re *Trusted
	return errors.As(err, &re)
}

// GetTrusted returns a copy of the Trusted pointer.
func GetTrusted(err error) *Trusted {
	var re *Trusted
	if !errors.As(err, &re) {
		return nil
	}
	return re
}

// =============================================================================

// statusCodes maps the cloud errors a client can cause or act on to the
// status they are reported with.
var statusCodes = []struct {
	err    error
	status int
}{
	{identity.ErrMalformedInput, http.StatusBadRequest},
	{journal.ErrNotFound, http.StatusNotFound},
	{journal.ErrNotDisclosed, http.StatusNotFound},
	{journal.ErrNotKeyHolder, http.StatusForbidden},
	{journal.ErrWrongRootKey, http.StatusForbidden},
	{journal.ErrCompromised, http.StatusConflict},
	{journal.ErrSaltReuse, http.StatusConflict},
	{codec.ErrDecryption, http.StatusUnprocessableEntity},
	{state.ErrNoReplayStore, http.StatusNotImplemented},
}

// Classify turns known errors into trusted errors so their message can be
// shown to the client. Unknown errors return nil.
func Classify(err error) *Trusted {
	if re := GetTrusted(err); re != nil {
		return re
	}

	if validate.IsFieldErrors(err) {
		return &Trusted{Err: err, Status: http.StatusBadRequest}
	}

	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			return &Trusted{Err: err, Status: sc.status}
		}
	}

	return nil
}
