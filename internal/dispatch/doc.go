// Package dispatch provides core.Dispatcher implementations.
//
// Every dispatcher here is idempotent on the dispatch id: delivering the
// same id twice records or writes the packet once and returns the same
// receipt, which is what lets the engine resume an interrupted dispatch.
package dispatch
