// Package workspace binds a workflow, its result cache and a blob store
// to a directory, giving named resources a persistent home.
//
// A resource is a step of the workspace workflow, addressed by name.
// Structural edits (set, delete, rename) invalidate the cached results
// of the edited resource and everything downstream of it before the
// edit becomes visible. Execution runs the dependency closure of one
// resource, computing each step outside the workspace lock so edits and
// reads stay responsive during long computations.
//
// Workspaces can be registered in a sqlite-backed catalog so tools can
// enumerate and resolve them by path.
package workspace
