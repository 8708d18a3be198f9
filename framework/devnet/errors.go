package devnet

import (
	"errors"
	"fmt"
)

// Phase names the step of the devnet lifecycle an error came from.
type Phase string

const (
	PhaseConfig       Phase = "config"
	PhasePrepare      Phase = "prepare"
	PhaseImage        Phase = "image"
	PhaseLoadAccounts Phase = "accounts-load"
	PhaseGenesis      Phase = "genesis"
	PhaseAccounts     Phase = "accounts"
	PhaseReset        Phase = "reset"
	PhaseStart        Phase = "start"
	PhaseStop         Phase = "stop"
	PhaseSnapshot     Phase = "snapshot"
	PhaseRestore      Phase = "restore"
)

var (
	// ErrInvalidAccountCount is returned when fewer than one account is requested.
	ErrInvalidAccountCount = errors.New("number of accounts to generate must be greater than 0")
	// ErrInvalidSnapshotName is returned for snapshot names that are not plain file names.
	ErrInvalidSnapshotName = errors.New("invalid snapshot name")
	// ErrSnapshotNotFound is returned when restoring an archive that does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// PhaseError ties an error to the lifecycle phase that failed.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// PhaseOf returns the phase of the outermost PhaseError in err's chain.
func PhaseOf(err error) (Phase, bool) {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Phase, true
	}
	return "", false
}

func phaseError(phase Phase, err error) error {
	if err == nil {
		return nil
	}
	var pe *PhaseError
	if errors.As(err, &pe) && pe.Phase == phase {
		return err
	}
	return &PhaseError{Phase: phase, Err: err}
}
