// Package workflow implements the node graph at the heart of the engine.
//
// A Workflow owns an ordered set of Steps. Every node exposes named input
// and output Ports; a Port holds either a literal value or a reference to
// another Port, expressed as (node id, port name) and resolved against
// the workflow scope. Steps come in a closed set of kinds (operation,
// expression, sub-workflow, no-op, sub-process) discriminated by a
// marker field in the JSON document form.
//
// Execution is synchronous and single-threaded within one invocation:
// the predecessor steps of a target are collected in dependency order
// (with explicit cycle detection) and invoked one by one against a
// shared, invalidatable result cache.
package workflow
