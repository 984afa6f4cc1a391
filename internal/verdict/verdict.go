// Package verdict maps the capabilities observed in a run to an outcome.
package verdict

import (
	"fmt"

	"github.com/abzhaw/superpowers/internal/transcript"
)

// Mode selects which decision table applies.
type Mode string

// Modes.
const (
	// ModeFixPresent runs with the canonical instruction set.
	ModeFixPresent Mode = "fix-present"
	// ModeFixAbsent is the negative control: the fix has been ablated.
	ModeFixAbsent Mode = "fix-absent"
)

// Outcome is the verdict label.
type Outcome string

// Outcomes.
const (
	Pass          Outcome = "PASS"
	Fail          Outcome = "FAIL"
	Inconclusive  Outcome = "INCONCLUSIVE"
	Reproduced    Outcome = "REPRODUCED"
	NotReproduced Outcome = "NOT-REPRODUCED"
)

// Rule names the capabilities that decide a scenario.
type Rule struct {
	Correct   string `json:"correct"`
	Incorrect string `json:"incorrect"`
}

// Evidence is what the decision was based on.
type Evidence struct {
	Observed          []string `json:"observed"`
	CorrectObserved   bool     `json:"correct_observed"`
	IncorrectObserved bool     `json:"incorrect_observed"`
	FirstCorrect      *Ref     `json:"first_correct,omitempty"`
	FirstIncorrect    *Ref     `json:"first_incorrect,omitempty"`
	Notes             []string `json:"notes,omitempty"`
}

// Ref points at the transcript event where a capability first appeared.
type Ref struct {
	Seq  int `json:"seq"`
	Turn int `json:"turn"`
	Line int `json:"line"`
}

// Verdict is the outcome of a run with its evidence.
type Verdict struct {
	Mode     Mode     `json:"mode"`
	Outcome  Outcome  `json:"outcome"`
	Rule     Rule     `json:"rule"`
	Evidence Evidence `json:"evidence"`
}

// ParseMode converts the --without-fix flag into a Mode.
func ParseMode(withoutFix bool) Mode {
	if withoutFix {
		return ModeFixAbsent
	}
	return ModeFixPresent
}

// Decide is the decision table. It depends only on the mode and on which
// of the two capabilities were observed.
func Decide(mode Mode, correct, incorrect bool) (Outcome, error) {
	switch mode {
	case ModeFixPresent:
		switch {
		case incorrect:
			return Fail, nil
		case correct:
			return Pass, nil
		}
	case ModeFixAbsent:
		switch {
		case incorrect:
			return Reproduced, nil
		case correct:
			return NotReproduced, nil
		}
	default:
		return "", fmt.Errorf("unknown mode %q", mode)
	}
	return Inconclusive, nil
}

// Evaluate decides the outcome for a capability set. Notes describe
// degraded evidence; they never change the outcome.
func Evaluate(mode Mode, set transcript.CapabilitySet, rule Rule, notes ...string) (Verdict, error) {
	correct := set.Has(rule.Correct)
	incorrect := set.Has(rule.Incorrect)
	outcome, err := Decide(mode, correct, incorrect)
	if err != nil {
		return Verdict{}, err
	}
	return Verdict{
		Mode:    mode,
		Outcome: outcome,
		Rule:    rule,
		Evidence: Evidence{
			Observed:          set.Names(),
			CorrectObserved:   correct,
			IncorrectObserved: incorrect,
			Notes:             notes,
		},
	}, nil
}

// FromTranscript evaluates an analyzed transcript and records where each
// deciding capability first appeared.
func FromTranscript(mode Mode, res transcript.Result, rule Rule, notes ...string) (Verdict, error) {
	v, err := Evaluate(mode, res.Capabilities(), rule, notes...)
	if err != nil {
		return Verdict{}, err
	}
	if ev, ok := res.First(rule.Correct); ok {
		v.Evidence.FirstCorrect = &Ref{Seq: ev.Seq, Turn: ev.Turn, Line: ev.Line}
	}
	if ev, ok := res.First(rule.Incorrect); ok {
		v.Evidence.FirstIncorrect = &Ref{Seq: ev.Seq, Turn: ev.Turn, Line: ev.Line}
	}
	return v, nil
}

// Success reports whether the run met its expectation: PASS with the fix,
// REPRODUCED without it.
func (v Verdict) Success() bool {
	return v.Outcome == Pass || v.Outcome == Reproduced
}

// ExitCode is the process exit status for the verdict.
func (v Verdict) ExitCode() int {
	if v.Success() {
		return 0
	}
	return 1
}
