// Package evidence turns conditions into leaf tri-state outcomes.
//
// It owns three things:
//   - comparators that apply a ConditionSpec's operator to a typed evidence
//     value, yielding Unknown (never False) on a type mismatch
//   - trust-lane enforcement, which forces a leaf to Unknown when evidence
//     arrives on a weaker lane than required
//   - the provider Registry keyed by provider_id and the built-in providers
//     (time, env, json, http)
//
// Providers never abort an evaluation pass. A provider error is carried in
// EvidenceResult.Error and resolves Unknown.
package evidence
