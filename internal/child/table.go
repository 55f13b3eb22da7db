// Package child implements the fixed-size child process table: 127
// slots tracking spawned test programs from exec request through exit.
package child

import (
	"fmt"
)

// MaxSlots is the fixed capacity of the child table. table_id values
// from the wire protocol must fall in [0, MaxSlots).
const MaxSlots = 127

// State is one node in a slot's lifecycle.
type State int

const (
	// StateEmpty means the slot holds no child and may be claimed.
	StateEmpty State = iota
	// StateExecRequested means Exec has been called but the process has
	// not yet been confirmed started (from Claim until MarkRunning).
	StateExecRequested
	// StateRunning means the child is alive; its output pipe and pid are
	// both being watched.
	StateRunning
	// StateTerminatedPendingEOF means one of the two release conditions
	// (SIGCHLD reaped, output pipe EOF) has occurred but not the other.
	// The slot releases only once both have, since a child can still
	// have buffered output after it has exited.
	StateTerminatedPendingEOF
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateExecRequested:
		return "exec_requested"
	case StateRunning:
		return "running"
	case StateTerminatedPendingEOF:
		return "terminated_pending_eof"
	default:
		return "unknown"
	}
}

// Slot holds one child table entry. Fields are valid only when State !=
// StateEmpty.
type Slot struct {
	TableID  uint8
	Path     string
	Pid      int
	OutputFd int
	State    State

	// reaped and eofSeen track which of the two independent release
	// conditions (SIGCHLD reaped, output pipe EOF) have occurred; the
	// slot releases once both are true. They can arrive in either
	// order, so a single State value can't tell them apart on its own.
	reaped  bool
	eofSeen bool
}

// Table is the fixed [127]Slot array the wire protocol's table_id
// indexes into. A plain array, not a map: table_id is already a dense
// index in [0, MaxSlots), and the reaper's reap path needs a cache-hot
// linear scan rather than hashing. Table is touched only from the
// reactor's single goroutine, so it carries no locking of its own.
type Table struct {
	slots [MaxSlots]Slot
}

// NewTable returns an empty child table.
func NewTable() *Table {
	return &Table{}
}

// Claim reserves tableID for an exec in progress. It fails if tableID
// is out of range or the slot is not currently empty.
func (t *Table) Claim(tableID uint8, path string) error {
	if int(tableID) >= MaxSlots {
		return fmt.Errorf("child: table_id %d out of range [0, %d)", tableID, MaxSlots)
	}
	slot := &t.slots[tableID]
	if slot.State != StateEmpty {
		return fmt.Errorf("child: table_id %d is not empty (state=%s)", tableID, slot.State)
	}
	slot.TableID = tableID
	slot.Path = path
	slot.State = StateExecRequested
	return nil
}

// MarkRunning transitions a claimed slot to running once the child
// process has actually started, recording its pid and output fd.
func (t *Table) MarkRunning(tableID uint8, pid, outputFd int) {
	slot := &t.slots[tableID]
	slot.Pid = pid
	slot.OutputFd = outputFd
	slot.State = StateRunning
}

// Abandon releases a slot that failed before a process was ever
// started (e.g. Pipe2 or cmd.Start failed).
func (t *Table) Abandon(tableID uint8) {
	t.slots[tableID] = Slot{}
}

// MarkReaped records that SIGCHLD has been reaped for this slot's pid.
// If its output pipe has already hit EOF, the slot releases immediately;
// otherwise it moves to terminated_pending_eof and releases later, when
// MarkEOF observes the matching EOF.
func (t *Table) MarkReaped(tableID uint8) {
	slot := &t.slots[tableID]
	slot.reaped = true
	if slot.eofSeen {
		t.slots[tableID] = Slot{}
		return
	}
	slot.State = StateTerminatedPendingEOF
}

// MarkEOF records that this slot's output pipe has hit EOF (the fd has
// already been closed and unregistered by the caller). If SIGCHLD has
// already been reaped, the slot releases immediately; otherwise it
// moves to terminated_pending_eof and releases later, when MarkReaped
// observes the matching reap.
func (t *Table) MarkEOF(tableID uint8) {
	slot := &t.slots[tableID]
	slot.eofSeen = true
	if slot.reaped {
		t.slots[tableID] = Slot{}
		return
	}
	slot.State = StateTerminatedPendingEOF
}

// FindByPid linearly scans the table for a running or pending slot
// owning pid. The table is small (127 entries) and hot in cache, so a
// linear scan beats any indexing structure for the reaper's purposes.
func (t *Table) FindByPid(pid int) (tableID uint8, ok bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if (s.State == StateRunning || s.State == StateTerminatedPendingEOF) && s.Pid == pid {
			return uint8(i), true
		}
	}
	return 0, false
}

// Get returns a copy of tableID's slot.
func (t *Table) Get(tableID uint8) Slot {
	return t.slots[tableID]
}
