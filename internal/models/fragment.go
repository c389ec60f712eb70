package models

// FailureKind classifies why a response stream ended without a complete critique.
type FailureKind string

const (
	FailureNone      FailureKind = ""
	FailureRefused   FailureKind = "refused"
	FailureTimeout   FailureKind = "timeout"
	FailureEmpty     FailureKind = "empty"
	FailureTransport FailureKind = "transport"
)

// Fragment is one piece of incrementally delivered response text.
// A fragment with Failure set is terminal: Text then holds a diagnostic
// message instead of model output.
type Fragment struct {
	Text    string
	Failure FailureKind
}

// Failed reports whether the fragment is a terminal diagnostic.
func (f Fragment) Failed() bool {
	return f.Failure != FailureNone
}
