// Package harness provides conformance testing for dgate scenario specs.
//
// The harness compiles a scenario spec, starts a run on a real engine, and
// drives it through a flow of triggers with scripted evidence. Decisions,
// gate outcomes and issued packets are recorded as a trace that can be
// asserted on and compared against golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	spec: ../specs/release.yaml
//	run:
//	  targets:
//	    - {kind: agent, agent_id: agent-1}
//	flow:
//	  - action: next
//	    trigger_id: t-1
//	    evidence:
//	      - {provider: ci, check: status, value: green, lane: verified}
//	    expect:
//	      outcome: advance
//	      stage: ship
//	assertions:
//	  - type: trace_order
//	    outcomes: [start, advance]
//	  - type: final_state
//	    expect: {status: active, stage: ship}
//
// Evidence scripts persist until replaced. An evidence entry without a
// lane is unattested and only satisfies gates whose minimum lane is
// asserted.
//
// # Assertion Types
//
// The following assertion types are supported:
//
//   - trace_contains: a decision with the outcome exists, optionally in a stage
//   - trace_order: outcomes appear in the given order
//   - trace_count: an outcome appears exactly N times
//   - final_state: the final run matches the expected fields
//   - dispatch_count: exactly N packets were delivered
//   - runpack_verifies: a runpack built from the run passes offline verification
//
// # Deterministic Testing
//
// Every scenario runs on a fresh in-memory store with a logical clock that
// starts at 0 and advances one tick per step unless the step says
// otherwise. Stage timeouts are therefore measured in ticks, and traces
// are identical across runs.
package harness
