// Package status provides utilities for managing VirtualMachine status fields,
// including conditions and phase transitions.
package status

import (
	"github.com/jbweber/anvil/api/v1alpha1"
)

// SetCondition adds or updates a condition in the VM status.
// If a condition with the same type already exists, it updates it.
// The LastTransitionTime is only updated if the status changes.
func SetCondition(vm *v1alpha1.VirtualMachine, condType string, status v1alpha1.ConditionStatus, reason, message string) {
	now := v1alpha1.Now()

	for i := range vm.Status.Conditions {
		if vm.Status.Conditions[i].Type == condType {
			existing := &vm.Status.Conditions[i]
			if existing.Status != status {
				existing.LastTransitionTime = now
			}
			existing.Status = status
			existing.Reason = reason
			existing.Message = message
			return
		}
	}

	vm.Status.Conditions = append(vm.Status.Conditions, v1alpha1.Condition{
		Type:               condType,
		Status:             status,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	})
}

// GetCondition returns a condition by type, or nil if not found.
func GetCondition(vm *v1alpha1.VirtualMachine, condType string) *v1alpha1.Condition {
	for i := range vm.Status.Conditions {
		if vm.Status.Conditions[i].Type == condType {
			return &vm.Status.Conditions[i]
		}
	}
	return nil
}

// IsConditionTrue returns true if the condition exists and has status True.
func IsConditionTrue(vm *v1alpha1.VirtualMachine, condType string) bool {
	cond := GetCondition(vm, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionTrue
}

// IsConditionFalse returns true if the condition exists and has status False.
func IsConditionFalse(vm *v1alpha1.VirtualMachine, condType string) bool {
	cond := GetCondition(vm, condType)
	return cond != nil && cond.Status == v1alpha1.ConditionFalse
}

// RemoveCondition removes a condition by type.
func RemoveCondition(vm *v1alpha1.VirtualMachine, condType string) {
	filtered := make([]v1alpha1.Condition, 0, len(vm.Status.Conditions))
	for i := range vm.Status.Conditions {
		if vm.Status.Conditions[i].Type != condType {
			filtered = append(filtered, vm.Status.Conditions[i])
		}
	}
	vm.Status.Conditions = filtered
}

// MarkRegistered records that the machine is defined on the host.
func MarkRegistered(vm *v1alpha1.VirtualMachine, domainUUID, settingsFile string) {
	vm.Status.DomainUUID = domainUUID
	vm.Status.SettingsFile = settingsFile
	SetCondition(vm, v1alpha1.ConditionRegistered, v1alpha1.ConditionTrue, "MachineRegistered", "Machine is defined on the host")
}

// MarkConfigured records that every configuration step succeeded.
func MarkConfigured(vm *v1alpha1.VirtualMachine) {
	SetCondition(vm, v1alpha1.ConditionConfigured, v1alpha1.ConditionTrue, "StepsApplied", "All configuration steps applied")
}
