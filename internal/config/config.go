// Package config loads and validates the run configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/JamesPaynter/mycelium/internal/budget"
	"github.com/JamesPaynter/mycelium/internal/compliance"
	"github.com/JamesPaynter/mycelium/internal/controlplane"
)

// DoctorCanaryMode controls the sanity check that the doctor command can
// actually fail.
type DoctorCanaryMode string

const (
	DoctorCanaryOff    DoctorCanaryMode = "off"
	DoctorCanaryEnable DoctorCanaryMode = "enabled"
)

// DoctorCanary configures the doctor sanity check: the doctor is run once
// with EnvVar set, and is expected to fail. A doctor that passes anyway is
// probably not running the real checks.
type DoctorCanary struct {
	Mode DoctorCanaryMode `yaml:"mode"`

	// EnvVar is the variable injected to make the canary run fail.
	EnvVar string `yaml:"env_var"`

	// WarnOnUnexpectedPass logs instead of failing when the canary passes.
	WarnOnUnexpectedPass bool `yaml:"warn_on_unexpected_pass"`
}

// WorkerConfig selects and bounds the external worker process.
type WorkerConfig struct {
	// Command is the worker binary invoked per attempt. It receives a JSON
	// envelope on stdin and emits JSONL progress on stdout.
	Command string `yaml:"command"`

	// TimeoutSeconds bounds one attempt. 0 means no timeout.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Config holds all configuration for a run. It is immutable after
// creation via Load().
type Config struct {
	// RepoPath is the absolute path to the target repository.
	RepoPath string `yaml:"repo_path"`

	// MainBranch is the branch runs integrate into.
	MainBranch string `yaml:"main_branch"`

	// TasksDir contains the task manifests. Relative paths are resolved
	// from RepoPath.
	TasksDir string `yaml:"tasks_dir"`

	// Doctor is the project-level verification command run against the
	// temporary merge before fast-forwarding.
	Doctor string `yaml:"doctor"`

	// MaxParallel caps concurrent worker invocations.
	MaxParallel int `yaml:"max_parallel"`

	// MaxRetries bounds worker attempts per task. 0 means unlimited.
	MaxRetries int `yaml:"max_retries"`

	// Resources names the known lock resources. Informational; declared
	// locks may reference resources outside this list.
	Resources []string `yaml:"resources,omitempty"`

	Budgets budget.Limits `yaml:"budgets"`

	// ManifestEnforcement is the write-scope compliance policy.
	ManifestEnforcement compliance.Policy `yaml:"manifest_enforcement"`

	// DoctorTimeoutSeconds bounds each doctor invocation.
	DoctorTimeoutSeconds int `yaml:"doctor_timeout_seconds"`

	DoctorCanary DoctorCanary `yaml:"doctor_canary"`

	ControlPlane controlplane.Options `yaml:"control_plane"`

	// CleanupWorkspacesOnSuccess removes task worktrees after a batch
	// fast-forwards.
	CleanupWorkspacesOnSuccess bool `yaml:"cleanup_workspaces_on_success"`

	// CleanupContainersOnSuccess asks the worker to tear down per-task
	// containers after a batch fast-forwards.
	CleanupContainersOnSuccess bool `yaml:"cleanup_containers_on_success"`

	Worker WorkerConfig `yaml:"worker"`

	// BranchPrefix is prepended to generated task branch names.
	BranchPrefix string `yaml:"branch_prefix"`

	// Home is the state root. Defaults to ~/.mycelium.
	Home string `yaml:"home,omitempty"`

	// Project namespaces state, logs, and history under Home. Defaults to
	// the repo directory name.
	Project string `yaml:"project,omitempty"`
}

// Load reads configuration from <repoRoot>/.mycelium.yaml, applying
// defaults first, then file values, then environment overrides, then
// validation. A missing config file is not an error.
func Load(repoRoot string) (*Config, error) {
	cfg := Default()
	cfg.RepoPath = repoRoot

	configPath := filepath.Join(repoRoot, ".mycelium.yaml")
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.RepoPath == "" {
		cfg.RepoPath = repoRoot
	}
	if !filepath.IsAbs(cfg.TasksDir) {
		cfg.TasksDir = filepath.Join(cfg.RepoPath, cfg.TasksDir)
	}
	if cfg.Home == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.Home = filepath.Join(home, ".mycelium")
	}
	if cfg.Project == "" {
		cfg.Project = filepath.Base(cfg.RepoPath)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
