package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/dgate/internal/core"
)

// ScenarioSubmit validates a payload against its schema and stores it on
// the run for audit. Submissions never feed gate evaluation.
//
// Resubmitting the same submission id with the same content returns the
// stored record; different content is rejected.
func (e *Engine) ScenarioSubmit(ctx context.Context, req SubmitRequest) (rec *core.SubmissionRecord, err error) {
	key := req.Key()
	if key.TenantID == "" || key.NamespaceID == "" || key.RunID == "" || req.SubmissionID == "" {
		return nil, NewValidationError("tenant_id, namespace_id, run_id and submission_id are required")
	}
	if err := req.SubmittedAt.Validate(); err != nil {
		return nil, NewValidationError("submitted_at: %v", err)
	}
	hash, err := payloadHash(req.Payload)
	if err != nil {
		return nil, NewValidationError("payload: %v", err)
	}

	ctx, done := e.track(ctx, "dgate.scenario_submit", append(runAttrs(key), attribute.String("dgate.submission_id", req.SubmissionID))...)
	defer func() { done(err) }()

	unlock := e.locks.lock(key)
	defer unlock()

	state, _, err := e.loadRun(ctx, key)
	if err != nil {
		return nil, err
	}
	for i := range state.Submissions {
		existing := state.Submissions[i]
		if existing.SubmissionID != req.SubmissionID {
			continue
		}
		if existing.ContentHash.Equal(hash) {
			return &existing, nil
		}
		return nil, NewValidationError("submission %q already recorded with different content", req.SubmissionID)
	}

	if req.SchemaID != "" && e.shapes != nil && req.Payload.Kind == core.PayloadJSON {
		if err := e.shapes.Validate(req.SchemaID, req.SchemaVersion, req.Payload.Value); err != nil {
			return nil, newError(ErrCodeDataShape, state.RunID, err, "submission %q does not match schema %q", req.SubmissionID, req.SchemaID)
		}
	}

	record := core.SubmissionRecord{
		SubmissionID:  req.SubmissionID,
		RunID:         state.RunID,
		SchemaID:      req.SchemaID,
		Payload:       req.Payload,
		ContentType:   req.ContentType,
		ContentHash:   hash,
		SubmittedAt:   req.SubmittedAt,
		CorrelationID: req.CorrelationID,
	}
	state.Submissions = append(state.Submissions, record)
	if err := recordToolCall(state, MethodSubmit, req, record, req.SubmittedAt, req.CorrelationID); err != nil {
		return nil, err
	}
	if err := e.save(ctx, state); err != nil {
		return nil, err
	}

	e.logger.Info("submission recorded",
		"run_id", state.RunID,
		"submission_id", record.SubmissionID,
		"schema_id", record.SchemaID,
		"event", "submission_recorded",
	)
	return &record, nil
}
