// Package config provides configuration loading and management for skilltest.
package config

import (
	"fmt"
	"time"
)

const (
	// AgentTypeClaude runs the claude CLI in print mode with stream-json output.
	AgentTypeClaude = "claude"
	// AgentTypeExec runs an arbitrary command using the same flag layout.
	AgentTypeExec = "exec"
)

// Config is the root configuration.
type Config struct {
	Agent        AgentConfig        `json:"agent"        mapstructure:"agent"        yaml:"agent"`
	Instructions InstructionsConfig `json:"instructions" mapstructure:"instructions" yaml:"instructions"`
	Scenario     ScenarioConfig     `json:"scenario"     mapstructure:"scenario"     yaml:"scenario"`
	Ablation     AblationConfig     `json:"ablation"     mapstructure:"ablation"     yaml:"ablation"`
	Runs         RunsConfig         `json:"runs"         mapstructure:"runs"         yaml:"runs"`
}

// AgentConfig describes how to run the agent under test.
type AgentConfig struct {
	Type      string        `json:"type"                 mapstructure:"type"       yaml:"type"`
	Cmd       []string      `json:"cmd,omitempty"        mapstructure:"cmd"        yaml:"cmd,omitempty"`
	Model     string        `json:"model,omitempty"      mapstructure:"model"      yaml:"model,omitempty"`
	Timeout   time.Duration `json:"timeout"              mapstructure:"timeout"    yaml:"timeout"`
	MaxSteps  int           `json:"max_steps"            mapstructure:"max_steps"  yaml:"max_steps"`
	Flags     AgentFlags    `json:"flags"                mapstructure:"flags"      yaml:"flags,omitempty"`
	ExtraArgs []string      `json:"extra_args,omitempty" mapstructure:"extra_args" yaml:"extra_args,omitempty"`
}

// AgentFlags names the command-line flags the agent understands.
// Empty values fall back to the claude CLI flag names.
type AgentFlags struct {
	Prompt       string `json:"prompt,omitempty"       mapstructure:"prompt"       yaml:"prompt,omitempty"`
	Instructions string `json:"instructions,omitempty" mapstructure:"instructions" yaml:"instructions,omitempty"`
	Continue     string `json:"continue,omitempty"     mapstructure:"continue"     yaml:"continue,omitempty"`
	MaxSteps     string `json:"max_steps,omitempty"    mapstructure:"max_steps"    yaml:"max_steps,omitempty"`
	Model        string `json:"model,omitempty"        mapstructure:"model"        yaml:"model,omitempty"`
}

// InstructionsConfig locates the canonical instruction set.
type InstructionsConfig struct {
	Dir     string `json:"dir"               mapstructure:"dir"     yaml:"dir"`
	Pattern string `json:"pattern,omitempty" mapstructure:"pattern" yaml:"pattern,omitempty"`
}

// ScenarioConfig describes the multi-turn scenario and its decision point.
type ScenarioConfig struct {
	Name        string         `json:"name"                  mapstructure:"name"        yaml:"name"`
	Description string         `json:"description,omitempty" mapstructure:"description" yaml:"description,omitempty"`
	Fixture     FixtureConfig  `json:"fixture"               mapstructure:"fixture"     yaml:"fixture"`
	Turns       []Turn         `json:"turns"                 mapstructure:"turns"       yaml:"turns"`
	Verdict     VerdictConfig  `json:"verdict"               mapstructure:"verdict"     yaml:"verdict"`
	Analyzer    AnalyzerConfig `json:"analyzer"              mapstructure:"analyzer"    yaml:"analyzer,omitempty"`
}

// FixtureConfig overrides the embedded project skeleton and design artifact.
type FixtureConfig struct {
	Source   string        `json:"source,omitempty" mapstructure:"source"   yaml:"source,omitempty"`
	Files    []FixtureFile `json:"files,omitempty"  mapstructure:"files"    yaml:"files,omitempty"`
	Artifact FixtureFile   `json:"artifact"         mapstructure:"artifact" yaml:"artifact,omitempty"`
}

// FixtureFile is a single file written into the fixture.
type FixtureFile struct {
	Path    string `json:"path"              mapstructure:"path"    yaml:"path"`
	Content string `json:"content,omitempty" mapstructure:"content" yaml:"content,omitempty"`
}

// Turn is one prompt sent to the agent.
type Turn struct {
	Prompt string `json:"prompt" mapstructure:"prompt" yaml:"prompt"`
}

// VerdictConfig names the capabilities that decide the outcome.
type VerdictConfig struct {
	Correct   string `json:"correct"   mapstructure:"correct"   yaml:"correct"`
	Incorrect string `json:"incorrect" mapstructure:"incorrect" yaml:"incorrect"`
}

// AnalyzerConfig tunes how skill invocations are recognized in transcripts.
type AnalyzerConfig struct {
	SkillTools   []string `json:"skill_tools,omitempty"    mapstructure:"skill_tools"    yaml:"skill_tools,omitempty"`
	SkillArgKeys []string `json:"skill_arg_keys,omitempty" mapstructure:"skill_arg_keys" yaml:"skill_arg_keys,omitempty"`
}

// AblationConfig lists the edits that remove the fix in negative-control mode.
type AblationConfig struct {
	Edits []Edit `json:"edits" mapstructure:"edits" yaml:"edits"`
}

// Edit is a single exact-match ablation.
type Edit struct {
	Skill      string `json:"skill"                 mapstructure:"skill"       yaml:"skill"`
	Old        string `json:"old,omitempty"         mapstructure:"old"         yaml:"old,omitempty"`
	New        string `json:"new,omitempty"         mapstructure:"new"         yaml:"new,omitempty"`
	DeleteLine string `json:"delete_line,omitempty" mapstructure:"delete_line" yaml:"delete_line,omitempty"`
	Reason     string `json:"reason,omitempty"      mapstructure:"reason"      yaml:"reason,omitempty"`
}

// RunsConfig controls where runs are written and how long they are kept.
type RunsConfig struct {
	Dir       string          `json:"dir"       mapstructure:"dir"       yaml:"dir"`
	Index     string          `json:"index"     mapstructure:"index"     yaml:"index"`
	Retention RetentionPolicy `json:"retention" mapstructure:"retention" yaml:"retention,omitempty"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last" yaml:"keep_last,omitempty"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days" yaml:"keep_days,omitempty"`
}

// Defaults.
const (
	DefaultTimeout  = 10 * time.Minute
	DefaultMaxSteps = 30
	DefaultPattern  = "**/SKILL.md"
	DefaultRunsDir  = ".skilltest/runs"
	DefaultIndex    = ".skilltest/index.db"
)

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Agent.Type == "" {
		c.Agent.Type = AgentTypeClaude
	}
	if c.Agent.Timeout <= 0 {
		c.Agent.Timeout = DefaultTimeout
	}
	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = DefaultMaxSteps
	}
	if c.Instructions.Pattern == "" {
		c.Instructions.Pattern = DefaultPattern
	}
	if len(c.Scenario.Analyzer.SkillTools) == 0 {
		c.Scenario.Analyzer.SkillTools = []string{"Skill"}
	}
	if len(c.Scenario.Analyzer.SkillArgKeys) == 0 {
		c.Scenario.Analyzer.SkillArgKeys = []string{"skill", "command", "name"}
	}
	if c.Runs.Dir == "" {
		c.Runs.Dir = DefaultRunsDir
	}
	if c.Runs.Index == "" {
		c.Runs.Index = DefaultIndex
	}
}

// Check performs semantic validation that the schema cannot express.
func (c Config) Check() error {
	if c.Agent.Type == AgentTypeExec && len(c.Agent.Cmd) == 0 {
		return fmt.Errorf("agent.cmd is required for agent type %q", AgentTypeExec)
	}
	if c.Instructions.Dir == "" {
		return fmt.Errorf("instructions.dir is required")
	}
	if len(c.Scenario.Turns) == 0 {
		return fmt.Errorf("scenario.turns must contain at least one turn")
	}
	for i, turn := range c.Scenario.Turns {
		if turn.Prompt == "" {
			return fmt.Errorf("scenario.turns[%d].prompt is empty", i)
		}
	}
	if c.Scenario.Verdict.Correct == "" || c.Scenario.Verdict.Incorrect == "" {
		return fmt.Errorf("scenario.verdict.correct and scenario.verdict.incorrect are required")
	}
	if c.Scenario.Verdict.Correct == c.Scenario.Verdict.Incorrect {
		return fmt.Errorf("scenario.verdict.correct and scenario.verdict.incorrect must differ")
	}
	for i, edit := range c.Ablation.Edits {
		if edit.Skill == "" {
			return fmt.Errorf("ablation.edits[%d].skill is empty", i)
		}
		if (edit.Old == "") == (edit.DeleteLine == "") {
			return fmt.Errorf("ablation.edits[%d] must set exactly one of old or delete_line", i)
		}
	}
	return nil
}
