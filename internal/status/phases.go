package status

import (
	"fmt"

	"github.com/jbweber/anvil/api/v1alpha1"
)

// transitions lists the phases reachable from each phase. The empty phase
// is a resource that has not been provisioned yet.
var transitions = map[v1alpha1.Phase][]v1alpha1.Phase{
	"":                      {v1alpha1.PhaseProbe},
	v1alpha1.PhaseProbe:     {v1alpha1.PhaseCreate, v1alpha1.PhaseRejected, v1alpha1.PhaseFailed},
	v1alpha1.PhaseCreate:    {v1alpha1.PhaseConfigure, v1alpha1.PhaseFailed},
	v1alpha1.PhaseConfigure: {v1alpha1.PhaseDone, v1alpha1.PhaseFailed},
}

// CanTransition reports whether a VM may move from phase from to phase to.
// No phase is ever re-entered.
func CanTransition(from, to v1alpha1.Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transition(vm *v1alpha1.VirtualMachine, to v1alpha1.Phase) error {
	if !CanTransition(vm.Status.Phase, to) {
		from := vm.Status.Phase
		if from == "" {
			from = "<none>"
		}
		return fmt.Errorf("cannot transition to %s from phase %s", to, from)
	}
	vm.SetPhase(to)
	return nil
}

// TransitionToProbe starts provisioning of a fresh resource.
func TransitionToProbe(vm *v1alpha1.VirtualMachine) error {
	return transition(vm, v1alpha1.PhaseProbe)
}

// TransitionToCreate is called once the name is known to be free.
func TransitionToCreate(vm *v1alpha1.VirtualMachine) error {
	if err := transition(vm, v1alpha1.PhaseCreate); err != nil {
		return err
	}
	SetCondition(vm, v1alpha1.ConditionRegistered, v1alpha1.ConditionFalse, "Creating", "Machine creation in progress")
	return nil
}

// TransitionToConfigure is called once the machine is registered.
func TransitionToConfigure(vm *v1alpha1.VirtualMachine, domainUUID, settingsFile string) error {
	if err := transition(vm, v1alpha1.PhaseConfigure); err != nil {
		return err
	}
	MarkRegistered(vm, domainUUID, settingsFile)
	SetCondition(vm, v1alpha1.ConditionConfigured, v1alpha1.ConditionFalse, "Configuring", "Configuration steps in progress")
	return nil
}

// TransitionToDone is called after the last configuration step.
func TransitionToDone(vm *v1alpha1.VirtualMachine) error {
	if err := transition(vm, v1alpha1.PhaseDone); err != nil {
		return err
	}
	MarkConfigured(vm)
	return nil
}

// TransitionToRejected is called when the name is already registered.
func TransitionToRejected(vm *v1alpha1.VirtualMachine, message string) error {
	if err := transition(vm, v1alpha1.PhaseRejected); err != nil {
		return err
	}
	SetCondition(vm, v1alpha1.ConditionRegistered, v1alpha1.ConditionFalse, "AlreadyRegistered", message)
	return nil
}

// TransitionToFailed moves a VM in any non-terminal phase to Failed and
// records reason and message on the condition of the failed phase.
func TransitionToFailed(vm *v1alpha1.VirtualMachine, reason, message string) error {
	from := vm.Status.Phase
	if err := transition(vm, v1alpha1.PhaseFailed); err != nil {
		return err
	}

	condType := v1alpha1.ConditionRegistered
	if from == v1alpha1.PhaseConfigure {
		condType = v1alpha1.ConditionConfigured
	}
	SetCondition(vm, condType, v1alpha1.ConditionFalse, reason, message)
	return nil
}

// IsTerminal returns true if no further transition is possible from phase.
func IsTerminal(phase v1alpha1.Phase) bool {
	return phase == v1alpha1.PhaseDone || phase == v1alpha1.PhaseRejected || phase == v1alpha1.PhaseFailed
}

// IsSucceeded returns true if provisioning finished successfully.
func IsSucceeded(phase v1alpha1.Phase) bool {
	return phase == v1alpha1.PhaseDone
}
