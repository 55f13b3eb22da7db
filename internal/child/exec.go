package child

import (
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/cdent/ltx/internal/interfaces"
	"github.com/cdent/ltx/internal/logging"
)

// Execer spawns a child process whose combined stdout/stderr is
// connected to the write end of a pipe, returning the child's pid. It
// is the seam tests swap for a fake instead of spawning real
// processes.
type Execer interface {
	Start(path string, outputWrite *os.File) (pid int, err error)
}

// OSExecer spawns real OS processes via os/exec, which performs the
// fork+exec sequence a C caller would do by hand with fork/dup2/execv.
type OSExecer struct{}

// Start implements Execer.
func (OSExecer) Start(path string, outputWrite *os.File) (int, error) {
	cmd := &exec.Cmd{
		Path:   path,
		Args:   []string{path},
		Stdout: outputWrite,
		Stderr: outputWrite,
	}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}

// Exec runs the full exec sequence for table_id against path: open an
// O_CLOEXEC pipe, register the slot, spawn, and hand back the
// non-blocking read end for the reactor to watch. On any failure the
// slot is abandoned and the error is returned for the caller to turn
// into a fatal protocol violation (exec itself is not expected to fail
// in the test programs this executor runs, per the wire protocol's
// scope).
func Exec(table *Table, execer Execer, logger interfaces.Logger, tableID uint8, path string) (outputReadFd int, err error) {
	if err := table.Claim(tableID, path); err != nil {
		return 0, err
	}

	readFd, writeFd, err := pipe2()
	if err != nil {
		table.Abandon(tableID)
		return 0, fmt.Errorf("child: pipe2 for table_id %d: %w", tableID, err)
	}

	writeFile := os.NewFile(uintptr(writeFd), "child-output-write")
	pid, err := execer.Start(path, writeFile)
	writeFile.Close()
	if err != nil {
		unix.Close(readFd)
		table.Abandon(tableID)
		return 0, fmt.Errorf("child: exec %q for table_id %d: %w", path, tableID, err)
	}

	if err := unix.SetNonblock(readFd, true); err != nil {
		unix.Close(readFd)
		table.Abandon(tableID)
		return 0, fmt.Errorf("child: set nonblock on output pipe for table_id %d: %w", tableID, err)
	}

	table.MarkRunning(tableID, pid, readFd)
	childLogger := logger
	if concrete, ok := logger.(*logging.Logger); ok {
		childLogger = concrete.WithTableID(tableID)
	}
	childLogger.Debugf("exec pid=%d path=%s", pid, path)
	return readFd, nil
}

// pipe2 creates an O_CLOEXEC pipe, returning the read and write fds.
func pipe2() (readFd, writeFd int, err error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}
