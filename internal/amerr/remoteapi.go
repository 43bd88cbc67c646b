package amerr

import (
	"errors"
	"fmt"
)

// ErrMissingInstallation is returned when an event must be processed with
// GitHub App installation credentials but the payload does not reference an
// installation.
var ErrMissingInstallation = errors.New("webhook payload has no installation id")

// RemoteAPIError is returned when the GitHub API answered a request with a
// non-2xx status code.
type RemoteAPIError struct {
	// Operation is the name of the client operation, e.g. "merge".
	Operation string
	// StatusCode is the HTTP status code of the response, 0 if no
	// response was received.
	StatusCode int
	Err        error
}

func NewRemoteAPIError(operation string, statusCode int, err error) *RemoteAPIError {
	return &RemoteAPIError{
		Operation:  operation,
		StatusCode: statusCode,
		Err:        err,
	}
}

func (e *RemoteAPIError) Unwrap() error {
	return e.Err
}

func (e *RemoteAPIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("github api: %s failed: %s", e.Operation, e.Err)
	}

	return fmt.Sprintf("github api: %s failed with status %d: %s", e.Operation, e.StatusCode, e.Err)
}

// ConfigurationError describes an invalid or incomplete configuration.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}
