package transcript

import "strings"

// Event is one recognition result as delivered by the backend.
type Event struct {
	Text      string
	IsFinal   bool
	Stability float32
}

// Transcript is the display model: accumulated finals plus the latest interim.
type Transcript struct {
	Final   string
	Interim string
}

func (t Transcript) String() string {
	if t.Interim == "" {
		return t.Final
	}
	return t.Final + t.Interim
}

// Reduce applies ev to t. Finals are appended with a trailing space and clear
// the interim; interims replace the previous interim wholesale.
func Reduce(t Transcript, ev Event) Transcript {
	if ev.IsFinal {
		return Transcript{Final: t.Final + ev.Text + " "}
	}
	return Transcript{Final: t.Final, Interim: ev.Text}
}

// Reducer keeps the running transcript and the individual final segments.
// It is not safe for concurrent use; Queue serializes access.
type Reducer struct {
	state    Transcript
	segments []string
}

func (r *Reducer) Apply(ev Event) Transcript {
	r.state = Reduce(r.state, ev)
	if ev.IsFinal {
		r.segments = append(r.segments, ev.Text)
	}
	return r.state
}

func (r *Reducer) Reset() {
	r.state = Transcript{}
	r.segments = nil
}

// ClearInterim drops the provisional text, as happens when a session stops.
func (r *Reducer) ClearInterim() Transcript {
	r.state.Interim = ""
	return r.state
}

func (r *Reducer) Snapshot() Transcript {
	return r.state
}

// Segments returns the final texts in delivery order.
func (r *Reducer) Segments() []string {
	return append([]string(nil), r.segments...)
}

// Text returns the finals joined by single spaces without the trailing one.
func (r *Reducer) Text() string {
	return strings.TrimSpace(r.state.Final)
}
