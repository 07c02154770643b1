package snipe

import "time"

// Candidate is one acquirable unit (a single campsite, say), ranked by its
// position in the caller-supplied list. Candidates are consumed in rank
// order and never reordered mid-run.
type Candidate struct {
	ID   string
	Rank int
}

// Candidates builds a ranked candidate list from ordered IDs.
func Candidates(ids ...string) []Candidate {
	out := make([]Candidate, len(ids))
	for i, id := range ids {
		out[i] = Candidate{ID: id, Rank: i}
	}
	return out
}

// AttemptRecord is one row of a run's audit trail: a single submission try
// against a single candidate. Records are finalized when the submission's
// result is known and never mutated afterward.
type AttemptRecord struct {
	Seq       int
	Candidate Candidate
	StartedAt time.Time
	EndedAt   time.Time
	Outcome   OutcomeKind
	Err       error
}

// Phase is the run's state-machine position. Transitions are monotonic
// except Polling and Submitting, which may cycle until a terminal phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWaiting
	PhasePolling
	PhaseSubmitting
	// PhaseSuspended: a Captcha outcome handed control to a human; the run
	// resumes the same candidate once resolved.
	PhaseSuspended
	PhaseSucceeded
	PhaseExhausted
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaiting:
		return "waiting"
	case PhasePolling:
		return "polling"
	case PhaseSubmitting:
		return "submitting"
	case PhaseSuspended:
		return "suspended"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseExhausted:
		return "exhausted"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run has reached a final disposition.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseExhausted, PhaseAborted:
		return true
	}
	return false
}

// CandidateOutcome summarizes one candidate after the run: how many attempts
// it consumed and the last outcome observed. On exhaustion the caller gets
// one of these per candidate to decide whether a re-run makes sense.
type CandidateOutcome struct {
	Candidate Candidate
	Attempts  int
	Last      OutcomeKind
}

// Result is the terminal disposition of a run plus the full audit trail.
type Result struct {
	Phase      Phase
	Winner     *Candidate
	Attempts   []AttemptRecord
	Candidates []CandidateOutcome

	// WokeAt and Overshoot report the precision of the waiting phase.
	WokeAt    time.Time
	Overshoot time.Duration
	Elapsed   time.Duration

	// Err carries the fatal error or cancellation detail on Aborted.
	Err error
}
