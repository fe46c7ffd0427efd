package ret

import "sync"

// Resolver supplies leaf outcomes by condition id.
type Resolver interface {
	Resolve(conditionID string) TriState
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(conditionID string) TriState

func (f ResolverFunc) Resolve(conditionID string) TriState { return f(conditionID) }

// Outcomes is a precomputed leaf table. Missing ids resolve Unknown.
type Outcomes map[string]TriState

func (o Outcomes) Resolve(conditionID string) TriState {
	if v, ok := o[conditionID]; ok {
		return v
	}
	return Unknown
}

// Memo resolves each condition id at most once.
type Memo struct {
	mu    sync.Mutex
	inner Resolver
	seen  map[string]TriState
}

// Memoize wraps a resolver with a per-pass cache.
func Memoize(inner Resolver) *Memo {
	return &Memo{inner: inner, seen: make(map[string]TriState)}
}

func (m *Memo) Resolve(conditionID string) TriState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.seen[conditionID]; ok {
		return v
	}
	v := m.inner.Resolve(conditionID)
	m.seen[conditionID] = v
	return v
}

// TraceEntry records a leaf outcome observed during evaluation.
type TraceEntry struct {
	ConditionID string   `json:"condition_id"`
	Status      TriState `json:"status"`
}

// Evaluator evaluates requirement trees under a logic mode.
type Evaluator struct {
	Mode LogicMode
}

// NewEvaluator returns an evaluator; an empty mode means Kleene.
func NewEvaluator(mode LogicMode) Evaluator {
	if mode == "" {
		mode = Kleene
	}
	return Evaluator{Mode: mode}
}

// Eval evaluates r. The tree must have passed Validate; malformed nodes
// evaluate Unknown.
func (e Evaluator) Eval(r Requirement, res Resolver) TriState {
	return e.eval(r, res, nil)
}

// EvalTrace evaluates r and returns the leaf outcomes in first-visit
// order, each condition listed once.
func (e Evaluator) EvalTrace(r Requirement, res Resolver) (TriState, []TraceEntry) {
	var trace []TraceEntry
	seen := make(map[string]bool)
	out := e.eval(r, res, func(id string, v TriState) {
		if seen[id] {
			return
		}
		seen[id] = true
		trace = append(trace, TraceEntry{ConditionID: id, Status: v})
	})
	if trace == nil {
		trace = []TraceEntry{}
	}
	return out, trace
}

func (e Evaluator) eval(r Requirement, res Resolver, hook func(string, TriState)) TriState {
	mode := e.Mode
	switch r.Kind {
	case KindCondition:
		v := res.Resolve(r.ConditionID)
		if hook != nil {
			hook(r.ConditionID, v)
		}
		return v
	case KindAnd:
		if len(r.Children) == 0 {
			return Unknown
		}
		acc := True
		for _, c := range r.Children {
			acc = mode.And(acc, e.eval(c, res, hook))
		}
		return acc
	case KindOr:
		if len(r.Children) == 0 {
			return Unknown
		}
		acc := False
		for _, c := range r.Children {
			acc = mode.Or(acc, e.eval(c, res, hook))
		}
		return acc
	case KindNot:
		if len(r.Children) != 1 {
			return Unknown
		}
		return mode.Not(e.eval(r.Children[0], res, hook))
	case KindThreshold:
		if r.K < 1 || r.K > len(r.Children) {
			return Unknown
		}
		var t, u int
		for _, c := range r.Children {
			switch e.eval(c, res, hook) {
			case True:
				t++
			case Unknown:
				u++
			}
		}
		return mode.Threshold(r.K, t, u)
	default:
		return Unknown
	}
}
