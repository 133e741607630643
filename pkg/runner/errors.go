package runner

import (
	"errors"
	"fmt"
)

var (
	// ErrContractViolation is returned when a model strategy breaks the output or feed contract.
	ErrContractViolation = errors.New("model contract violation")

	ErrUnknownMode = errors.New("unknown mode")

	// ErrNoCheckpoint is returned when a checkpoint is required but none exists.
	ErrNoCheckpoint = errors.New("no checkpoint found")
)

type ContractViolationError struct {
	Mode   Mode
	Detail string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("%s (mode %s): %s", ErrContractViolation, e.Mode, e.Detail)
}

func (e *ContractViolationError) Unwrap() error {
	return ErrContractViolation
}

func contractViolation(mode Mode, format string, args ...any) error {
	return &ContractViolationError{Mode: mode, Detail: fmt.Sprintf(format, args...)}
}

// CallbackError reports a failing lifecycle hook.
type CallbackError struct {
	Hook  string
	Index int
	Err   error
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("callback %d %s: %v", e.Index, e.Hook, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}
