// Package core defines the dgate data model and the narrow interfaces the
// control plane consumes.
//
// Everything here is plain data with snake_case JSON tags. Every type that
// crosses a process boundary (scenario specs, evidence, run state, decision
// records) must canonicalize through package canonical so that its hash is
// a pure function of its content.
//
// core imports canonical and ret only. Storage, transport, providers and
// dispatch live behind the interfaces in interfaces.go.
package core
