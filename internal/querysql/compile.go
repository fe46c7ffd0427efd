// Package querysql compiles run queries to parameterized SQL over the runs
// table. Output uses ? placeholders; callers targeting numbered-placeholder
// drivers rebind them.
package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/dgate/internal/queryir"
)

// Columns is the projection every compiled query returns, in scan order.
var Columns = []string{"run_id", "scenario_id", "status", "current_stage_id", "version"}

// Compile converts q to SQL and its parameters. Every value is passed as a
// parameter and every query ends in ORDER BY run_id ASC.
func Compile(q queryir.Select) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(Columns, ", "))
	b.WriteString(" FROM runs WHERE tenant_id = ? AND namespace_id = ?")
	params := []any{q.TenantID, q.NamespaceID}

	if q.Filter != nil {
		filter, fparams, err := compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		b.WriteString(" AND ")
		b.WriteString(filter)
		params = append(params, fparams...)
	}

	b.WriteString(" ORDER BY run_id ASC")
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}
	return b.String(), params, nil
}

func compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case queryir.Equals:
		return string(pred.Field) + " = ?", []any{pred.Value}, nil
	case queryir.In:
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(pred.Values)), ", ")
		params := make([]any, len(pred.Values))
		for i, v := range pred.Values {
			params[i] = v
		}
		return fmt.Sprintf("%s IN (%s)", pred.Field, marks), params, nil
	case queryir.And:
		if len(pred.Predicates) == 0 {
			return "1 = 1", nil, nil
		}
		parts := make([]string, 0, len(pred.Predicates))
		var params []any
		for _, sub := range pred.Predicates {
			s, sp, err := compilePredicate(sub)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, s)
			params = append(params, sp...)
		}
		return "(" + strings.Join(parts, " AND ") + ")", params, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}
