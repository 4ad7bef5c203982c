package segpipe

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidOptions = errors.New("segpipe: invalid options")
	ErrShuttingDown   = errors.New("segpipe: factory shutting down")

	ErrAllocationPending = errors.New("segpipe: allocation already outstanding")
	ErrNoAllocation      = errors.New("segpipe: no outstanding allocation")
	ErrCommitTooLarge    = errors.New("segpipe: commit exceeds allocated region")
	ErrAllocation        = errors.New("segpipe: cannot allocate segment")
	ErrWriterCompleted   = errors.New("segpipe: writer completed")

	ErrReadPending       = errors.New("segpipe: read already outstanding")
	ErrNotAdvanced       = errors.New("segpipe: previous read was not advanced")
	ErrNothingToAdvance  = errors.New("segpipe: advance without a read")
	ErrAdvanceOutOfRange = errors.New("segpipe: advance past examined data")
	ErrReaderCompleted   = errors.New("segpipe: reader completed")

	ErrPeerGone  = errors.New("segpipe: peer gone")
	ErrCancelled = errors.New("segpipe: read cancelled")
)

// peerGone is what the writer observes once the reader side has terminated.
func peerGone(cause error) error {
	if cause == nil {
		return ErrPeerGone
	}
	if errors.Is(cause, ErrPeerGone) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrPeerGone, cause)
}

// State of a pipe as seen from either handle.
type State uint8

const (
	StateOpen State = iota
	StateDraining
	StateCompleted
	StateCancelled
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further bytes will ever be delivered.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateErrored
}
