// Package op implements the operation registry of the flowforge engine.
//
// An operation is a plain Go function paired with a Descriptor: a typed,
// validated contract declaring the operation's named inputs, outputs and
// header metadata. Descriptors are declared explicitly through a fluent
// builder rather than derived by reflection, so the contract is visible
// at the registration site.
//
// A Registry maps qualified names to registered operations and is always
// passed explicitly into engine entry points; a process-wide default is
// composed only at the outermost composition root.
package op
