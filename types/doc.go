// Package types defines the shared value types of the flowforge engine:
// the structured error taxonomy used across all packages and the
// progress/cancellation monitor contract threaded through step invocation.
package types
