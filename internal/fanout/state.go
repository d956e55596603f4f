package fanout

import (
	"encoding/json"
	"errors"

	"github.com/blacktop/xrelay/internal/logutil"
	"github.com/blacktop/xrelay/internal/xpost"
)

// State is a step of a single cross-post request.
type State string

const (
	StateReceived         State = "received"
	StateValidated        State = "validated"
	StateAuthorized       State = "authorized"
	StateResolvingParents State = "resolving-parents"
	StateStaging          State = "staging"
	StatePublishing       State = "publishing"
	StateRecording        State = "recording"
	StateCleaningUp       State = "cleaning-up"
	StateDone             State = "done"

	StateRejectedValidation    State = "rejected-validation"
	StateRejectedAuthorization State = "rejected-authorization"
	StateUpstreamFetchFailed   State = "upstream-fetch-failed"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateRejectedValidation, StateRejectedAuthorization, StateUpstreamFetchFailed:
		return true
	}
	return false
}

// Status is the per-destination result of a fan-out.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Threading describes how a destination post relates to the source's parent.
type Threading string

const (
	ThreadingNone                 Threading = "none"
	ThreadingThreaded             Threading = "threaded"
	ThreadingParentNotCrossPosted Threading = "parent-not-cross-posted"
)

// Skip reasons.
const (
	ReasonNotRequested = "not requested"
)

// Outcome is what happened at one destination.
type Outcome struct {
	Status        Status
	DestinationID string
	Reason        string
	Err           error
	Threading     Threading
}

// Succeeded returns a successful outcome.
func Succeeded(id string, threading Threading) Outcome {
	return Outcome{Status: StatusSucceeded, DestinationID: id, Threading: threading}
}

// Skipped returns an outcome for a destination that was not published to.
func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason, Threading: ThreadingNone}
}

// Failed returns an outcome for a destination whose publish failed.
func Failed(err error, threading Threading) Outcome {
	return Outcome{Status: StatusFailed, Err: err, Threading: threading}
}

// MarshalJSON renders the error as a string and omits empty fields.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := struct {
		Status        Status    `json:"status"`
		DestinationID string    `json:"destination_id,omitempty"`
		Reason        string    `json:"reason,omitempty"`
		Error         string    `json:"error,omitempty"`
		Threading     Threading `json:"threading,omitempty"`
	}{
		Status:        o.Status,
		DestinationID: o.DestinationID,
		Reason:        o.Reason,
		Threading:     o.Threading,
	}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return json.Marshal(out)
}

// Result is the aggregate result of a cross-post request. Outcomes is
// populated only once the request reaches StateDone.
type Result struct {
	Source   xpost.PostRef
	State    State
	Err      error
	Outcomes map[xpost.Network]Outcome
}

// Accepted reports whether the request passed validation, authorization and
// the source fetch, regardless of individual destination failures.
func (r Result) Accepted() bool {
	return r.State == StateDone
}

// Failed lists destinations whose publish failed.
func (r Result) Failed() []xpost.Network {
	var out []xpost.Network
	for _, n := range xpost.Networks {
		if o, ok := r.Outcomes[n]; ok && o.Status == StatusFailed {
			out = append(out, n)
		}
	}
	return out
}

// Combined joins the request error with every destination failure.
func (r Result) Combined() error {
	errs := []error{r.Err}
	for _, n := range r.Failed() {
		errs = append(errs, r.Outcomes[n].Err)
	}
	return errors.Join(errs...)
}

// MarshalJSON adds the accepted flag and flattens the error to text.
func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		Source   string                    `json:"source,omitempty"`
		State    State                     `json:"state"`
		Accepted bool                      `json:"accepted"`
		Error    string                    `json:"error,omitempty"`
		Outcomes map[xpost.Network]Outcome `json:"destinations,omitempty"`
	}{
		State:    r.State,
		Accepted: r.Accepted(),
		Outcomes: r.Outcomes,
	}
	if r.Source.Valid() {
		out.Source = r.Source.String()
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

func transition(src xpost.PostRef, from, to State) State {
	logutil.Debugf("%s: %s -> %s", src, from, to)
	return to
}
