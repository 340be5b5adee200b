package explain

import (
	"fmt"

	"github.com/akave-ai/anomalog/internal/model"
)

var transitions = map[model.ExplanationState][]model.ExplanationState{
	model.ExplanationPending:    {model.ExplanationGenerating},
	model.ExplanationGenerating: {model.ExplanationExplained, model.ExplanationFellBack, model.ExplanationFailed},
}

// task tracks one request through PENDING -> GENERATING -> terminal.
type task struct {
	state    model.ExplanationState
	attempts int
	reason   string
}

func newTask() *task {
	return &task{state: model.ExplanationPending}
}

func (t *task) advance(next model.ExplanationState, reason string) {
	for _, allowed := range transitions[t.state] {
		if allowed == next {
			t.state = next
			t.reason = reason
			return
		}
	}
	panic(fmt.Sprintf("explain: invalid transition %s -> %s", t.state, next))
}

func (t *task) outcome() model.ExplanationOutcome {
	return model.ExplanationOutcome{State: t.state, Reason: t.reason, Attempts: t.attempts}
}
