package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dgate/internal/config"
	"github.com/roach88/dgate/internal/core"
)

// Scenario defines a conformance test scenario.
// A scenario starts one run of a scenario spec, drives it through a flow of
// triggers with scripted evidence, and asserts on the resulting decision
// trace and final run state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Spec is the path to the scenario spec (.cue, .yaml or .json).
	// Relative paths are resolved against the scenario file's directory.
	Spec string `yaml:"spec"`

	// Run identifies the run and where its packets go.
	Run RunSetup `yaml:"run"`

	// Engine overrides engine defaults for this scenario.
	Engine EngineSetup `yaml:"engine,omitempty"`

	// Policy optionally installs CEL disclosure rules.
	Policy *config.PolicyConfig `yaml:"policy,omitempty"`

	// Flow contains the steps executed after the run starts.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, dispatch_count, runpack_verifies
	Assertions []Assertion `yaml:"assertions"`
}

// RunSetup configures StartRun. Empty fields take the defaults below.
type RunSetup struct {
	TenantID          string          `yaml:"tenant_id,omitempty"`
	NamespaceID       string          `yaml:"namespace_id,omitempty"`
	RunID             string          `yaml:"run_id,omitempty"`
	AgentID           string          `yaml:"agent_id,omitempty"`
	Targets           []TargetSetup   `yaml:"targets,omitempty"`
	IssueEntryPackets bool            `yaml:"issue_entry_packets,omitempty"`
	Evidence          []EvidenceEntry `yaml:"evidence,omitempty"`
	Expect            *ExpectClause   `yaml:"expect,omitempty"`
}

// Run defaults.
const (
	DefaultTenantID = "tenant-1"
	DefaultRunID    = "run-1"
	DefaultAgentID  = "agent-1"
)

// TargetSetup is a dispatch target in YAML form.
type TargetSetup struct {
	Kind      string `yaml:"kind"`
	AgentID   string `yaml:"agent_id,omitempty"`
	SessionID string `yaml:"session_id,omitempty"`
	System    string `yaml:"system,omitempty"`
	Target    string `yaml:"target,omitempty"`
	Channel   string `yaml:"channel,omitempty"`
}

func (t TargetSetup) target() core.DispatchTarget {
	return core.DispatchTarget{
		Kind:      core.TargetKind(t.Kind),
		AgentID:   t.AgentID,
		SessionID: t.SessionID,
		System:    t.System,
		Target:    t.Target,
		Channel:   t.Channel,
	}
}

// EngineSetup overrides engine options.
type EngineSetup struct {
	LogicMode      string `yaml:"logic_mode,omitempty"`
	DefaultMinLane string `yaml:"default_min_lane,omitempty"`
}

// EvidenceEntry scripts one provider check. Exactly one of Value or Error
// is used; Error wins when both are set. Scripts persist across steps
// until replaced.
type EvidenceEntry struct {
	Provider string `yaml:"provider"`
	Check    string `yaml:"check"`
	Value    any    `yaml:"value,omitempty"`
	Lane     string `yaml:"lane,omitempty"`
	Error    string `yaml:"error,omitempty"`
}

// Step actions.
const (
	ActionNext    = "next"
	ActionTrigger = "trigger"
	ActionSubmit  = "submit"
)

// FlowStep is one action against the run.
type FlowStep struct {
	// Action is next, trigger or submit.
	Action string `yaml:"action"`

	// TriggerID is the idempotency key for next and trigger. Reusing an
	// earlier id replays that trigger.
	TriggerID string `yaml:"trigger_id,omitempty"`

	// Kind is the trigger kind for action trigger (default external_event).
	Kind string `yaml:"kind,omitempty"`

	// Advance moves the logical clock before the step (default 1).
	Advance *int64 `yaml:"advance,omitempty"`

	// Evidence scripts provider results before the step runs.
	Evidence []EvidenceEntry `yaml:"evidence,omitempty"`

	// Submission is the payload for action submit.
	Submission *SubmissionStep `yaml:"submission,omitempty"`

	// Expect validates the step's result. Nil skips validation.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// SubmissionStep is a submitted payload.
type SubmissionStep struct {
	SubmissionID string `yaml:"submission_id"`
	SchemaID     string `yaml:"schema_id,omitempty"`
	ContentType  string `yaml:"content_type,omitempty"`
	Value        any    `yaml:"value"`
}

// ExpectClause specifies the expected outcome of a step. Only set fields
// are checked.
type ExpectClause struct {
	Outcome string            `yaml:"outcome,omitempty"`
	Status  string            `yaml:"status,omitempty"`
	Stage   string            `yaml:"stage,omitempty"`
	Reason  string            `yaml:"reason,omitempty"`
	Gates   map[string]string `yaml:"gates,omitempty"`
	Packets []string          `yaml:"packets,omitempty"`
	Error   string            `yaml:"error,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a decision with the given outcome (and stage) exists
	// - "trace_order": outcomes appear in the given order
	// - "trace_count": an outcome appears exactly Count times
	// - "final_state": the final run matches Expect
	// - "dispatch_count": exactly Count packets were delivered
	// - "runpack_verifies": a runpack built from the run verifies
	Type string `yaml:"type"`

	// Outcome is the decision outcome (trace_contains, trace_count).
	Outcome string `yaml:"outcome,omitempty"`

	// Stage optionally narrows trace_contains to a stage.
	Stage string `yaml:"stage,omitempty"`

	// Outcomes is the expected outcome order (trace_order).
	Outcomes []string `yaml:"outcomes,omitempty"`

	// Count is the expected number of occurrences.
	Count int `yaml:"count,omitempty"`

	// Expect holds expected final run fields (final_state). Supported keys:
	// status, stage, decisions, packets, submissions, timeout_flagged.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains   = "trace_contains"
	AssertTraceOrder      = "trace_order"
	AssertTraceCount      = "trace_count"
	AssertFinalState      = "final_state"
	AssertDispatchCount   = "dispatch_count"
	AssertRunpackVerifies = "runpack_verifies"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The spec path is resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving the spec path against
// basePath.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Spec != "" && !filepath.IsAbs(scenario.Spec) && basePath != "" {
		scenario.Spec = filepath.Join(basePath, scenario.Spec)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Spec == "" {
		return fmt.Errorf("spec is required")
	}
	if _, err := os.Stat(s.Spec); os.IsNotExist(err) {
		return fmt.Errorf("spec file not found: %s", s.Spec)
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, t := range s.Run.Targets {
		if err := t.target().Validate(); err != nil {
			return fmt.Errorf("run.targets[%d]: %w", i, err)
		}
	}
	if err := validateEvidence("run.evidence", s.Run.Evidence); err != nil {
		return err
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *FlowStep) error {
	switch step.Action {
	case ActionNext:
		if step.TriggerID == "" {
			return fmt.Errorf("flow[%d]: trigger_id is required for next", index)
		}
	case ActionTrigger:
		if step.TriggerID == "" {
			return fmt.Errorf("flow[%d]: trigger_id is required for trigger", index)
		}
		if step.Kind != "" && !core.TriggerKind(step.Kind).Known() {
			return fmt.Errorf("flow[%d]: unknown trigger kind %q", index, step.Kind)
		}
	case ActionSubmit:
		if step.Submission == nil || step.Submission.SubmissionID == "" {
			return fmt.Errorf("flow[%d]: submission.submission_id is required for submit", index)
		}
	case "":
		return fmt.Errorf("flow[%d]: action is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown action %q", index, step.Action)
	}
	if step.Advance != nil && *step.Advance < 0 {
		return fmt.Errorf("flow[%d]: advance must be non-negative", index)
	}
	return validateEvidence(fmt.Sprintf("flow[%d].evidence", index), step.Evidence)
}

func validateEvidence(field string, entries []EvidenceEntry) error {
	for i, e := range entries {
		if e.Provider == "" || e.Check == "" {
			return fmt.Errorf("%s[%d]: provider and check are required", field, i)
		}
		if e.Lane != "" {
			if _, err := core.ParseTrustLane(e.Lane); err != nil {
				return fmt.Errorf("%s[%d]: %w", field, i, err)
			}
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Outcomes) == 0 {
			return fmt.Errorf("assertions[%d]: outcomes list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertDispatchCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for dispatch_count", index)
		}
	case AssertRunpackVerifies:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
