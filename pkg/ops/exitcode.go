package ops

import (
	"errors"

	"github.com/nicklasfrahm/sshrunas/pkg/rexec"
)

// Outcome categories of a run.
const (
	OutcomeSuccess              = "success"
	OutcomeRemoteFailed         = "remote-failed"
	OutcomeRemoteSignalled      = "remote-signalled"
	OutcomeInvalidConfig        = "invalid-config"
	OutcomeCancelled            = "cancelled"
	OutcomeLockHeld             = "lock-held"
	OutcomeSessionFailed        = "session-failed"
	OutcomeAmbiguousTermination = "ambiguous-termination"
	OutcomeUnexpected           = "unexpected"
)

// Exit codes of the local process for failures that did not come from
// the remote command.
const (
	ExitInvalidConfig        = 1
	ExitCancelled            = 2
	ExitLockHeld             = 3
	ExitSessionFailed        = 4
	ExitAmbiguousTermination = 254
	ExitUnexpected           = 255
)

// signals maps the signal names of RFC 4254 to their numbers on Linux.
var signals = map[string]int{
	"HUP":  1,
	"INT":  2,
	"QUIT": 3,
	"ILL":  4,
	"ABRT": 6,
	"FPE":  8,
	"KILL": 9,
	"USR1": 10,
	"SEGV": 11,
	"USR2": 12,
	"PIPE": 13,
	"ALRM": 14,
	"TERM": 15,
}

// Outcome returns the category of a run.
func Outcome(result *rexec.Result, err error) string {
	switch {
	case errors.Is(err, rexec.ErrConfigInvalid):
		return OutcomeInvalidConfig
	case errors.Is(err, rexec.ErrCancelled):
		return OutcomeCancelled
	case errors.Is(err, rexec.ErrLockHeld):
		return OutcomeLockHeld
	case errors.Is(err, rexec.ErrSession):
		return OutcomeSessionFailed
	case errors.Is(err, rexec.ErrAmbiguousTermination):
		return OutcomeAmbiguousTermination
	case err != nil, result == nil:
		return OutcomeUnexpected
	case result.ExitSignal != "":
		return OutcomeRemoteSignalled
	case result.ExitCode == nil:
		return OutcomeAmbiguousTermination
	case *result.ExitCode != 0:
		return OutcomeRemoteFailed
	default:
		return OutcomeSuccess
	}
}

// ExitCode returns the exit code of the local process for a run. Exit codes
// of the remote command are passed through, a remote signal N becomes 128+N
// like in a shell.
func ExitCode(result *rexec.Result, err error) int {
	switch Outcome(result, err) {
	case OutcomeSuccess:
		return 0
	case OutcomeRemoteFailed:
		code := *result.ExitCode
		if code < 0 || code > 255 {
			return ExitUnexpected
		}
		return code
	case OutcomeRemoteSignalled:
		number, ok := signals[result.ExitSignal]
		if !ok {
			return ExitUnexpected
		}
		return 128 + number
	case OutcomeInvalidConfig:
		return ExitInvalidConfig
	case OutcomeCancelled:
		return ExitCancelled
	case OutcomeLockHeld:
		return ExitLockHeld
	case OutcomeSessionFailed:
		return ExitSessionFailed
	case OutcomeAmbiguousTermination:
		return ExitAmbiguousTermination
	default:
		return ExitUnexpected
	}
}
