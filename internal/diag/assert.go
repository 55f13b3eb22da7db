package diag

import (
	"fmt"
	"os"
	"runtime/debug"
)

// Fatal reports a fatal assertion: the message goes to stderr and (if
// wired) as a log frame, then a raw stack trace is printed to stderr
// and the process exits 1. There is no unwind; the OS reclaims fds and
// reaps orphaned children, matching the wire protocol's failure
// semantics where every non-recoverable condition is fatal.
func (s *Sink) Fatal(err error) {
	s.Logf(nil, "fatal: %v", err)
	fmt.Fprintln(s.Stderr, string(debug.Stack()))
	os.Exit(1)
}

// Assert calls Fatal if cond is false, formatting format/args as the
// failure message.
func (s *Sink) Assert(cond bool, format string, args ...any) {
	if cond {
		return
	}
	s.Fatal(fmt.Errorf(format, args...))
}
