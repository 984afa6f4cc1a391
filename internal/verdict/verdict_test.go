package verdict

import (
	"strings"
	"testing"

	"github.com/abzhaw/superpowers/internal/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rule = Rule{Correct: "writing-plans", Incorrect: "EnterPlanMode"}

func TestEvaluate_DecisionTable(t *testing.T) {
	tests := []struct {
		name string
		mode Mode
		set  []string
		want Outcome
	}{
		{"fix present, correct only", ModeFixPresent, []string{"Skill", "writing-plans"}, Pass},
		{"fix present, both", ModeFixPresent, []string{"Skill", "writing-plans", "EnterPlanMode"}, Fail},
		{"fix present, incorrect only", ModeFixPresent, []string{"EnterPlanMode"}, Fail},
		{"fix present, neither", ModeFixPresent, []string{"Read", "Write"}, Inconclusive},
		{"fix present, empty", ModeFixPresent, nil, Inconclusive},
		{"fix absent, incorrect only", ModeFixAbsent, []string{"EnterPlanMode"}, Reproduced},
		{"fix absent, correct only", ModeFixAbsent, []string{"Skill", "writing-plans"}, NotReproduced},
		{"fix absent, both", ModeFixAbsent, []string{"writing-plans", "EnterPlanMode"}, Reproduced},
		{"fix absent, empty", ModeFixAbsent, nil, Inconclusive},
		{"namespaced skill", ModeFixPresent, []string{"superpowers:writing-plans"}, Pass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Evaluate(tt.mode, transcript.NewCapabilitySet(tt.set...), rule)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Outcome)
			assert.Equal(t, tt.mode, v.Mode)
			assert.Equal(t, transcript.NewCapabilitySet(tt.set...).Names(), v.Evidence.Observed)
		})
	}
}

func TestEvaluate_NotesDoNotChangeOutcome(t *testing.T) {
	set := transcript.NewCapabilitySet("writing-plans")
	plain, err := Evaluate(ModeFixPresent, set, rule)
	require.NoError(t, err)
	degraded, err := Evaluate(ModeFixPresent, set, rule, "turn 2 timed out")
	require.NoError(t, err)

	assert.Equal(t, plain.Outcome, degraded.Outcome)
	assert.Equal(t, []string{"turn 2 timed out"}, degraded.Evidence.Notes)
}

func TestEvaluate_UnknownMode(t *testing.T) {
	_, err := Evaluate(Mode("sideways"), transcript.NewCapabilitySet(), rule)
	require.Error(t, err)
}

func TestFromTranscript_TwoTurnScript(t *testing.T) {
	turn1 := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Skill","input":{"skill":"brainstorming"}}]}}`
	turn2 := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Skill","input":{"skill":"writing-plans"}}]}}`
	planMode := `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"EnterPlanMode","input":{}}]}}`

	build := func(extra ...string) transcript.Result {
		var b strings.Builder
		b.Write(transcript.Marker(1))
		b.WriteString(turn1 + "\n")
		b.Write(transcript.Marker(2))
		b.WriteString(turn2 + "\n")
		for _, l := range extra {
			b.WriteString(l + "\n")
		}
		res, err := transcript.Analyze(strings.NewReader(b.String()), transcript.DefaultOptions())
		require.NoError(t, err)
		return res
	}

	v, err := FromTranscript(ModeFixPresent, build(), rule)
	require.NoError(t, err)
	assert.Equal(t, Pass, v.Outcome)
	assert.True(t, v.Success())
	assert.Equal(t, 0, v.ExitCode())
	require.NotNil(t, v.Evidence.FirstCorrect)
	assert.Equal(t, 2, v.Evidence.FirstCorrect.Turn)
	assert.Nil(t, v.Evidence.FirstIncorrect)

	v, err = FromTranscript(ModeFixPresent, build(planMode), rule)
	require.NoError(t, err)
	assert.Equal(t, Fail, v.Outcome)
	assert.False(t, v.Success())
	assert.Equal(t, 1, v.ExitCode())
	require.NotNil(t, v.Evidence.FirstIncorrect)
	assert.Equal(t, 5, v.Evidence.FirstIncorrect.Line)
}

func TestSuccess(t *testing.T) {
	for outcome, want := range map[Outcome]bool{
		Pass: true, Reproduced: true, Fail: false, Inconclusive: false, NotReproduced: false,
	} {
		assert.Equal(t, want, Verdict{Outcome: outcome}.Success(), outcome)
	}
	assert.Equal(t, ModeFixAbsent, ParseMode(true))
	assert.Equal(t, ModeFixPresent, ParseMode(false))
}
