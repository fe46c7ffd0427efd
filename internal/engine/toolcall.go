package engine

import (
	"fmt"

	"github.com/roach88/dgate/internal/canonical"
	"github.com/roach88/dgate/internal/core"
)

// Tool-call method names recorded in the audit log.
const (
	MethodStartRun = "start_run"
	MethodNext     = "scenario_next"
	MethodTrigger  = "trigger"
	MethodSubmit   = "scenario_submit"
)

// recordToolCall appends an audit record of a mutating call, hashing the
// request and response. Call ids are sequential per run.
func recordToolCall(state *core.RunState, method string, request, response any, at core.Timestamp, correlationID string) error {
	reqHash, err := canonical.HashValue(request)
	if err != nil {
		return newError(ErrCodeCanonicalization, state.RunID, err, "hash %s request", method)
	}
	rec := core.ToolCallRecord{
		CallID:        fmt.Sprintf("call-%d", len(state.ToolCalls)+1),
		Method:        method,
		RequestHash:   reqHash,
		CalledAt:      at,
		CorrelationID: correlationID,
	}
	if response != nil {
		respHash, err := canonical.HashValue(response)
		if err != nil {
			return newError(ErrCodeCanonicalization, state.RunID, err, "hash %s response", method)
		}
		rec.ResponseHash = &respHash
	}
	state.ToolCalls = append(state.ToolCalls, rec)
	return nil
}
