// Package queryir is the filter representation behind run listings.
//
// A Select names one tenant namespace and an optional predicate over the
// indexed columns of a run: run id, scenario id, status and current stage.
// Backends either compile it (see querysql) or evaluate it in memory with
// Match, and must agree on the rows returned.
//
// Predicate is a sealed interface. Only Equals, In and And implement it, so
// backends can switch over it exhaustively:
//
//	switch p := pred.(type) {
//	case Equals:
//	case In:
//	case And:
//	}
//
// Values are always strings and are never spliced into query text.
// Results are ordered by run id ascending.
package queryir
