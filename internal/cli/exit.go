package cli

import (
	"errors"
	"fmt"

	"onebookreader/pkg/apierror"
	"onebookreader/pkg/session"
)

const (
	exitFailure     = 1
	exitUsage       = 2
	exitAuth        = 3
	exitNotFound    = 4
	exitPermission  = 5
	exitUnavailable = 6
	exitConfig      = 7
)

// ExitError is returned by commands that need a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// asExit maps a client-core error onto an exit code and user-facing message.
func asExit(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee
	}
	if errors.Is(err, session.ErrAuthInFlight) {
		return exitError(exitFailure, "%s", err.Error())
	}
	msg := apierror.Message(err, fallback)
	switch apierror.KindOf(err) {
	case apierror.KindAuthenticationRequired:
		return exitError(exitAuth, "%s", msg)
	case apierror.KindNotFound:
		return exitError(exitNotFound, "%s", msg)
	case apierror.KindPermissionDenied:
		return exitError(exitPermission, "%s", msg)
	case apierror.KindValidation:
		return exitError(exitUsage, "%s", msg)
	case apierror.KindNetwork, apierror.KindServiceUnavailable, apierror.KindRateLimited:
		return exitError(exitUnavailable, "%s", msg)
	default:
		return exitError(exitFailure, "%s", msg)
	}
}
