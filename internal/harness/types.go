package harness

// TraceEvent is one entry in a scenario's execution trace: either the
// invocation of a step or its completion. Invocations carry the step
// name, acting user, and args; completions carry the output case and
// the operation's result fields.
type TraceEvent struct {
	Type   string                 `json:"type"` // "invocation" or "completion"
	Step   string                 `json:"step,omitempty"`
	User   string                 `json:"user,omitempty"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Case   string                 `json:"case,omitempty"`
	Result map[string]interface{} `json:"result,omitempty"`
	Seq    int64                  `json:"seq"`
}

// Result is the outcome of one scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists all invocations and completions in order.
	Trace []TraceEvent `json:"trace"`

	// Errors collects expect and assertion failures. Empty when Pass.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates an empty passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a validation failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddInvocationTrace appends a step invocation to the trace.
func (r *Result) AddInvocationTrace(step, user string, args map[string]interface{}, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type: "invocation",
		Step: step,
		User: user,
		Args: args,
		Seq:  seq,
	})
}

// AddCompletionTrace appends a step completion to the trace.
func (r *Result) AddCompletionTrace(outputCase string, result map[string]interface{}, seq int64) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   "completion",
		Case:   outputCase,
		Result: result,
		Seq:    seq,
	})
}
