package engine

import (
	"errors"
	"fmt"
)

var (
	ErrPeerDisconnected = errors.New("peer disconnected")
	ErrTimeout          = errors.New("timeout")
	ErrChannelNotOpen   = errors.New("channel not open")
	ErrDeclined         = errors.New("receiver declined the transfer")
	ErrUnknownTransfer  = errors.New("unknown transfer")
	ErrNotAccepted      = errors.New("transfer not accepted")
	ErrMissingChunk     = errors.New("missing chunk")
	ErrRelayFailed      = errors.New("relay transfer failed")
	ErrTerminalState    = errors.New("transfer already finished")
)

// TransferError annotates a failure with the operation and file it
// happened on.
type TransferError struct {
	Op      string
	File    string
	Err     error
	Details string
}

func (e *TransferError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *TransferError {
	return &TransferError{Op: op, Err: err}
}

func NewFileError(op, file string, err error) *TransferError {
	return &TransferError{Op: op, File: file, Err: err}
}

func WrapError(op string, err error, details string) *TransferError {
	return &TransferError{Op: op, Err: err, Details: details}
}
