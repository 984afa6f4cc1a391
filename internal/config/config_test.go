package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultYAMLIsLoadable(t *testing.T) {
	t.Parallel()

	data, err := DefaultYAML("")
	require.NoError(t, err)

	cfg, err := Load(viper.New(), writeConfig(t, string(data)))
	require.NoError(t, err)

	assert.Equal(t, AgentTypeClaude, cfg.Agent.Type)
	assert.Equal(t, 10*time.Minute, cfg.Agent.Timeout)
	assert.Equal(t, 30, cfg.Agent.MaxSteps)
	assert.Len(t, cfg.Scenario.Turns, 2)
	assert.Equal(t, "writing-plans", cfg.Scenario.Verdict.Correct)
	assert.Equal(t, "EnterPlanMode", cfg.Scenario.Verdict.Incorrect)
	assert.Len(t, cfg.Ablation.Edits, 2)
	assert.Equal(t, "EnterPlanMode", cfg.Ablation.Edits[0].DeleteLine)
	assert.Equal(t, []string{"Skill"}, cfg.Scenario.Analyzer.SkillTools)
	assert.Equal(t, 50, cfg.Runs.Retention.KeepLast)
}

func TestDefaultYAML_ReplacesInstructionsDir(t *testing.T) {
	t.Parallel()

	data, err := DefaultYAML("/opt/superpowers")
	require.NoError(t, err)
	assert.Contains(t, string(data), "# skilltest scenario")

	cfg, err := Load(viper.New(), writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, "/opt/superpowers", cfg.Instructions.Dir)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `instructions:
  dir: ./skills
scenario:
  name: minimal
  turns:
    - prompt: hello
  verdict:
    correct: writing-plans
    incorrect: EnterPlanMode
`)

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, AgentTypeClaude, cfg.Agent.Type)
	assert.Equal(t, DefaultTimeout, cfg.Agent.Timeout)
	assert.Equal(t, DefaultMaxSteps, cfg.Agent.MaxSteps)
	assert.Equal(t, DefaultPattern, cfg.Instructions.Pattern)
	assert.Equal(t, DefaultRunsDir, cfg.Runs.Dir)
	assert.Equal(t, DefaultIndex, cfg.Runs.Index)
	assert.Equal(t, []string{"skill", "command", "name"}, cfg.Scenario.Analyzer.SkillArgKeys)
}

func TestLoad_RejectsSchemaViolations(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `instructions:
  dir: ./skills
scenario:
  name: broken
  turns: []
  verdict:
    correct: writing-plans
    incorrect: EnterPlanMode
agent:
  type: codex
`)

	_, err := Load(viper.New(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config schema validation failed")
}

func TestCheck(t *testing.T) {
	t.Parallel()

	valid := Config{
		Instructions: InstructionsConfig{Dir: "skills"},
		Scenario: ScenarioConfig{
			Turns:   []Turn{{Prompt: "one"}},
			Verdict: VerdictConfig{Correct: "writing-plans", Incorrect: "EnterPlanMode"},
		},
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "exec without cmd",
			mutate:  func(c *Config) { c.Agent.Type = AgentTypeExec },
			wantErr: "agent.cmd is required",
		},
		{
			name:    "same capability",
			mutate:  func(c *Config) { c.Scenario.Verdict.Incorrect = "writing-plans" },
			wantErr: "must differ",
		},
		{
			name: "edit with both old and delete_line",
			mutate: func(c *Config) {
				c.Ablation.Edits = []Edit{{Skill: "brainstorming", Old: "x", DeleteLine: "y"}}
			},
			wantErr: "exactly one of old or delete_line",
		},
		{
			name: "edit with neither",
			mutate: func(c *Config) {
				c.Ablation.Edits = []Edit{{Skill: "brainstorming"}}
			},
			wantErr: "exactly one of old or delete_line",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			cfg.Ablation.Edits = nil
			tt.mutate(&cfg)
			err := cfg.Check()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
