package chat

// Window bounds the list of messages sent to the inference backend. Apply
// is a pure function of its input: it never reorders messages and never
// drops the leading system message.
type Window interface {
	Apply(messages []Message) []Message
}

// CountWindow keeps the system message plus the most recent Max messages,
// dropping the oldest non-system messages first. The Store uses the same
// policy to trim persisted history, which bounds on-disk size.
type CountWindow struct {
	Max int
}

// Apply returns the bounded view of messages.
func (w CountWindow) Apply(messages []Message) []Message {
	if w.Max <= 0 || len(messages) == 0 {
		return messages
	}

	hasSystem := messages[0].Role == RoleSystem
	rest := messages
	if hasSystem {
		rest = messages[1:]
	}

	if len(rest) <= w.Max {
		return messages
	}

	rest = rest[len(rest)-w.Max:]
	if !hasSystem {
		return rest
	}

	out := make([]Message, 0, len(rest)+1)
	out = append(out, messages[0])
	return append(out, rest...)
}

// TokenWindow drops the oldest non-system messages one at a time until the
// estimated token total fits Budget or a single message remains. It bounds
// the outbound view only; stored history is untouched.
type TokenWindow struct {
	Budget    int
	Estimator Estimator
}

// Apply returns the bounded view of messages.
func (w TokenWindow) Apply(messages []Message) []Message {
	if w.Budget <= 0 || len(messages) == 0 {
		return messages
	}

	est := w.Estimator
	if est == nil {
		est = HeuristicEstimator{}
	}

	costs := make([]int, len(messages))
	total := 0
	for i, msg := range messages {
		costs[i] = est.Estimate(msg.Content) + perMessageOverhead
		total += costs[i]
	}

	hasSystem := messages[0].Role == RoleSystem
	start := 0
	if hasSystem {
		start = 1
	}

	// Drop from the front of the non-system span until under budget or
	// only the newest message remains.
	drop := start
	for total > w.Budget && len(messages)-drop > 1 {
		total -= costs[drop]
		drop++
	}

	if drop == start {
		return messages
	}

	if !hasSystem {
		return messages[drop:]
	}

	out := make([]Message, 0, 1+len(messages)-drop)
	out = append(out, messages[0])
	return append(out, messages[drop:]...)
}
