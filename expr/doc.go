// Package expr implements the small, sandboxed expression language used
// by expression steps and resource wiring. The grammar covers arithmetic,
// comparisons, logical operators, list/dict literals, dot-path variable
// access, indexing, and calls into a fixed function allow-list. There is
// no import mechanism, no attribute access beyond map keys, and no way to
// reach the host environment: the evaluator interprets its own parse tree.
package expr
