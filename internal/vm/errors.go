package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrPreconditionViolation is returned when a machine with the requested
	// name is already registered. Nothing is created or changed.
	ErrPreconditionViolation = errors.New("machine already registered")

	// ErrInvalidSpecification is returned when a resource fails validation.
	// It is always returned before any host call.
	ErrInvalidSpecification = errors.New("invalid machine specification")

	// ErrMachineNotFound is returned by Get for names the host does not know.
	ErrMachineNotFound = errors.New("machine not found")
)

// Step names a unit of work in a provisioning run.
type Step string

const (
	StepProbe         Step = "probe"
	StepCreate        Step = "create machine"
	StepRegister      Step = "register machine"
	StepSeed          Step = "write seed iso"
	StepMemory        Step = "set memory"
	StepController    Step = "add storage controller"
	StepCreateMedium  Step = "create medium"
	StepOpenMedium    Step = "open medium"
	StepAttachDisk    Step = "attach disk"
	StepAttachISO     Step = "attach iso"
	StepAttachAdapter Step = "attach nat adapter"
)

// StepError reports a host failure during creation or configuration.
// Steps that completed before it are not rolled back.
type StepError struct {
	Machine string
	Step    Step
	// Target is the disk path, ISO path or adapter slot the step worked on.
	Target string
	Err    error
}

func (e *StepError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("machine %s: %s %s: %v", e.Machine, e.Step, e.Target, e.Err)
	}
	return fmt.Sprintf("machine %s: %s: %v", e.Machine, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func stepError(machine string, step Step, target string, err error) *StepError {
	return &StepError{Machine: machine, Step: step, Target: target, Err: err}
}
