package cli

import (
	"fmt"
	"os"

	"github.com/JamesPaynter/mycelium/internal/compliance"
	"github.com/JamesPaynter/mycelium/internal/config"
	"github.com/JamesPaynter/mycelium/internal/controlplane"
	"github.com/JamesPaynter/mycelium/internal/engine"
	"github.com/JamesPaynter/mycelium/internal/events"
	"github.com/JamesPaynter/mycelium/internal/history"
	"github.com/JamesPaynter/mycelium/internal/manifest"
	"github.com/JamesPaynter/mycelium/internal/paths"
	"github.com/JamesPaynter/mycelium/internal/state"
	"github.com/JamesPaynter/mycelium/internal/validate"
	"github.com/JamesPaynter/mycelium/internal/vcs"
	"github.com/JamesPaynter/mycelium/internal/worker"
)

// runtime bundles everything a command needs to drive or inspect a run.
type runtime struct {
	cfg     *config.Config
	paths   *paths.Context
	engine  *engine.Engine
	log     *events.Log
	history *history.Store
	stop    *engine.StopSignal
	runID   string
}

// close releases the runtime's file and database handles.
func (r *runtime) close() {
	if r.log != nil {
		_ = r.log.Close()
	}
	if r.history != nil {
		_ = r.history.Close()
	}
}

// loadConfig resolves the config from the current working directory.
func loadConfig() (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return config.Load(wd)
}

// buildRuntime assembles the engine and its collaborators for a run ID.
// An empty runID allocates a fresh one.
func buildRuntime(cfg *config.Config, runID string) (*runtime, error) {
	pc, err := paths.New(cfg.Home, cfg.Project)
	if err != nil {
		return nil, fmt.Errorf("resolve paths: %w", err)
	}
	if runID == "" {
		runID = state.NewRunID()
	}

	catalog, err := manifest.Load(cfg.TasksDir)
	if err != nil {
		return nil, fmt.Errorf("load task catalog: %w", err)
	}

	log, err := events.OpenLog(pc.OrchestratorLog(runID))
	if err != nil {
		return nil, err
	}

	var model *controlplane.Model
	if cfg.ControlPlane.Enabled && cfg.ControlPlane.ModelPath != "" {
		model, err = controlplane.LoadModel(cfg.ControlPlane.ModelPath)
		if err != nil {
			log.Close()
			return nil, err
		}
	}

	hist, err := history.Open(pc)
	if err != nil {
		log.Close()
		return nil, err
	}

	stop := &engine.StopSignal{}
	eng, err := engine.New(engine.Options{
		Config:   cfg,
		Paths:    pc,
		Catalog:  catalog,
		Store:    state.NewStore(pc, runID),
		Log:      log,
		VCS:      vcs.NewGit(vcs.NewRunner(), cfg.RepoPath, cfg.MainBranch),
		Worker:   worker.NewCommandRunner(cfg.Worker.Command),
		Validate: validate.NewCommandValidator(),
		Doctor:   validate.NewShellDoctor(),
		Comply:   compliance.NewPipeline(cfg.ManifestEnforcement),
		History:  hist,
		Model:    model,
		Stop:     stop,
		RunID:    runID,
	})
	if err != nil {
		log.Close()
		hist.Close()
		return nil, err
	}

	return &runtime{
		cfg:     cfg,
		paths:   pc,
		engine:  eng,
		log:     log,
		history: hist,
		stop:    stop,
		runID:   runID,
	}, nil
}

// latestRunID returns the most recent run for the project, or an error if
// none exist.
func latestRunID(cfg *config.Config) (string, error) {
	pc, err := paths.New(cfg.Home, cfg.Project)
	if err != nil {
		return "", err
	}
	runID, err := state.FindLatestRunID(pc)
	if err != nil {
		return "", err
	}
	if runID == "" {
		return "", fmt.Errorf("no runs found for project %s", cfg.Project)
	}
	return runID, nil
}
