// Package vm provisions machines idempotently.
//
// Provisioner.CreateAndRegister takes a VirtualMachine resource and makes
// sure exactly one machine with its name exists on the host, fully
// configured. A run moves through these phases:
//
//	Probe -> Create -> Configure -> Done
//	  |         |          |
//	  |         +----------+--> Failed
//	  +--> Rejected (name already registered)
//	  +--> Failed   (invalid resource, probe error)
//
// The resource is validated before the host is contacted. An already
// registered name is never touched. Configuration steps run in a fixed order
// (memory, boot controller, hard disks, ISO images, NAT adapters by slot)
// and each one that mutates the machine does so under the machine lock,
// saving the settings before the lock is released.
//
// Error Handling:
//
// There is no rollback and no retry. A failed step returns a *StepError and
// leaves the machine as far as it got; rerunning with the same name is
// rejected until the machine is removed by other means.
//
// Context Support:
//
// The context bounds every host call, including waiting for a contended
// machine lock. No timeouts are applied internally.
package vm
