package emarsys

import (
	"errors"
	"fmt"
)

// RemoteError is a failure reported by the API itself.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s (code %s)", e.Message, e.Code)
}

// IsContactNotFound reports whether err is the remote "contact not found" error.
func IsContactNotFound(err error) bool {
	var remoteErr *RemoteError
	return errors.As(err, &remoteErr) && remoteErr.Code == CodeContactNotFound
}

// transportError wraps failures that happened before a reply was decoded.
type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return "request failed: " + e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}
