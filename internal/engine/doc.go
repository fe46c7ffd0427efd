// Package engine implements the dgate run state machine.
//
// An Engine owns no run state of its own. Every call loads the run from an
// injected core.RunStateStore, applies one transition and saves it back
// with a version check, so the store is the single source of truth and
// stale writers are rejected.
//
// Trigger processing:
//  1. Replays: a trigger_id already decided returns the stored decision
//     and packets without touching providers or dispatch.
//  2. Absorbing runs (terminal, failed, timed_out) return their last
//     decision unchanged.
//  3. The current stage's conditions are queried concurrently; leaf
//     outcomes are recorded in condition_id order.
//  4. Gates roll up under the configured logic mode. All True advances
//     along advance_to; otherwise the stage timeout policy or a hold
//     applies.
//  5. Entry packets of a newly entered stage are persisted together with
//     a pending-dispatch intent before any target is contacted, then
//     dispatched, then committed with their receipts.
//
// Per-run mutation is serialized by a lock scoped to the run key. Precheck
// never touches the store or dispatch.
package engine
