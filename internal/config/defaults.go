package config

import (
	"github.com/JamesPaynter/mycelium/internal/budget"
	"github.com/JamesPaynter/mycelium/internal/compliance"
	"github.com/JamesPaynter/mycelium/internal/controlplane"
)

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		MainBranch:           "main",
		TasksDir:             "tasks",
		MaxParallel:          4,
		MaxRetries:           3,
		DoctorTimeoutSeconds: 600,
		Budgets: budget.Limits{
			Mode: budget.ModeWarn,
		},
		ManifestEnforcement: compliance.PolicyWarn,
		DoctorCanary: DoctorCanary{
			Mode:                 DoctorCanaryOff,
			EnvVar:               "MYCELIUM_DOCTOR_CANARY",
			WarnOnUnexpectedPass: true,
		},
		ControlPlane: controlplane.Options{
			LockMode:         controlplane.LockModeDeclared,
			FallbackResource: "repo",
		},
		CleanupWorkspacesOnSuccess: true,
		Worker: WorkerConfig{
			TimeoutSeconds: 1800,
		},
		BranchPrefix: "mycelium/",
	}
}
