package config

import (
	"fmt"

	"github.com/JamesPaynter/mycelium/internal/budget"
	"github.com/JamesPaynter/mycelium/internal/compliance"
	"github.com/JamesPaynter/mycelium/internal/controlplane"
)

// validate checks the config for internal consistency. Called by Load
// after defaults, file values, and env overrides are applied.
func validate(cfg *Config) error {
	if cfg.RepoPath == "" {
		return fmt.Errorf("repo_path is required")
	}
	if cfg.MainBranch == "" {
		return fmt.Errorf("main_branch is required")
	}
	if cfg.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1, got %d", cfg.MaxParallel)
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative: %d", cfg.MaxRetries)
	}
	if cfg.DoctorTimeoutSeconds < 0 {
		return fmt.Errorf("doctor_timeout_seconds cannot be negative: %d", cfg.DoctorTimeoutSeconds)
	}
	if cfg.Worker.TimeoutSeconds < 0 {
		return fmt.Errorf("worker.timeout_seconds cannot be negative: %d", cfg.Worker.TimeoutSeconds)
	}
	if cfg.Budgets.MaxTokensPerTask < 0 {
		return fmt.Errorf("budgets.max_tokens_per_task cannot be negative: %d", cfg.Budgets.MaxTokensPerTask)
	}

	switch cfg.Budgets.Mode {
	case budget.ModeWarn, budget.ModeBlock:
	default:
		return fmt.Errorf("invalid budgets.mode: %q (must be 'warn' or 'block')", cfg.Budgets.Mode)
	}

	switch cfg.ManifestEnforcement {
	case compliance.PolicyOff, compliance.PolicyWarn, compliance.PolicyBlock:
	default:
		return fmt.Errorf("invalid manifest_enforcement: %q (must be 'off', 'warn', or 'block')",
			cfg.ManifestEnforcement)
	}

	switch cfg.DoctorCanary.Mode {
	case DoctorCanaryOff, DoctorCanaryEnable:
	default:
		return fmt.Errorf("invalid doctor_canary.mode: %q", cfg.DoctorCanary.Mode)
	}
	if cfg.DoctorCanary.Mode == DoctorCanaryEnable && cfg.DoctorCanary.EnvVar == "" {
		return fmt.Errorf("doctor_canary.env_var is required when the canary is enabled")
	}

	switch cfg.ControlPlane.LockMode {
	case controlplane.LockModeDeclared, controlplane.LockModeDerived:
	default:
		return fmt.Errorf("invalid control_plane.lockMode: %q (must be 'declared' or 'derived')",
			cfg.ControlPlane.LockMode)
	}
	if cfg.ControlPlane.Enabled && cfg.ControlPlane.LockMode == controlplane.LockModeDerived &&
		cfg.ControlPlane.ModelPath == "" {
		return fmt.Errorf("control_plane.model_path is required for derived lock mode")
	}

	return nil
}
