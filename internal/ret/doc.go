// Package ret implements requirement evaluation trees over a tri-state
// logic.
//
// A Requirement is a pure value tree: Condition leaves combined with And,
// Or, Not and Threshold. Trees are validated once when a scenario is
// registered (non-empty And/Or, threshold bounds, bounded depth), and then
// evaluated against already-resolved leaf outcomes. Leaves never resolve
// themselves; the caller supplies a Resolver.
package ret
