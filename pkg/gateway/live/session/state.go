package session

// State is the session's position in the voice round lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateReasoning    State = "reasoning"
	StateRendering    State = "rendering"
	StateError        State = "error"
)

// transitions lists the legal next states. Error is also entered from idle
// when a round is refused at admission.
var transitions = map[State][]State{
	StateIdle:         {StateListening, StateError},
	StateListening:    {StateTranscribing, StateIdle, StateError},
	StateTranscribing: {StateReasoning, StateError},
	StateReasoning:    {StateRendering, StateError},
	StateRendering:    {StateIdle, StateError},
	StateError:        {StateIdle},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
