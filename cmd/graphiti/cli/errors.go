package cli

import "errors"

// UsageError marks a command-line misuse, such as conflicting flags.
// main maps it to exit code 2.
type UsageError struct {
	Msg string
}

func (e *UsageError) Error() string {
	return e.Msg
}

// SilentError wraps an error whose message was already written to the
// user, so main must not print it again.
type SilentError struct {
	Err error
}

func (e *SilentError) Error() string {
	if e.Err == nil {
		return "silent error"
	}
	return e.Err.Error()
}

func (e *SilentError) Unwrap() error {
	return e.Err
}

// ExitCode maps an Execute error to the process exit code: 0 on
// success, 2 for usage errors, 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var usage *UsageError
	if errors.As(err, &usage) {
		return 2
	}
	return 1
}
