// Package cache implements the disposal-aware result cache shared by a
// workflow invocation or a workspace. Entries are keyed by step id; a
// nested child cache scopes the invocations of a sub-workflow step so its
// inner step ids cannot collide with sibling keys.
package cache
