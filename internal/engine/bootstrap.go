package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/cupcake-sh/cupcake/internal/audit"
	"github.com/cupcake-sh/cupcake/internal/config"
	"github.com/cupcake-sh/cupcake/internal/router"
	"github.com/cupcake-sh/cupcake/internal/ruleset"
	"github.com/cupcake-sh/cupcake/internal/scanner"
	"github.com/cupcake-sh/cupcake/internal/trustsvc"
	"github.com/cupcake-sh/cupcake/internal/types"
)

// Load scans, compiles, and assembles an Engine from a project's
// policy directory and, if CUPCAKE_GLOBAL_CONFIG names one, a global
// policy directory layered beneath it. This is the bootstrap every
// `cupcake eval` invocation performs before reading a single event.
func Load(projectDir string, settings *config.Settings, logger *zap.Logger) (*Engine, error) {
	sc, err := scanner.New()
	if err != nil {
		return nil, fmt.Errorf("engine: build scanner: %w", err)
	}

	cfg := Config{
		Logger:        logger,
		SignalTimeout: settings.SignalTimeout,
		ActionTimeout: settings.ActionTimeout,
		FallbackVerb:  types.VerbAllowOverride,
	}

	if settings.GlobalConfig != "" {
		globalModules, err := sc.Walk(settings.GlobalConfig, types.TierGlobal)
		if err != nil {
			return nil, fmt.Errorf("engine: scan global policies: %w", err)
		}
		globalBodies, err := bodiesFor(globalModules)
		if err != nil {
			return nil, err
		}
		compiled, err := ruleset.Compile(types.TierGlobal, globalModules, globalBodies)
		if err != nil {
			return nil, fmt.Errorf("engine: compile global policies: %w", err)
		}
		cfg.Global = compiled
		cfg.GlobalTable = router.Build(globalModules)
		cfg.GlobalTrust = trustsvc.New(filepath.Join(settings.GlobalConfig, "trust", "manifest.yml"), nil)
		_ = cfg.GlobalTrust.Load()
	}

	policyDir := settings.PolicyDir
	if policyDir == "" {
		policyDir = filepath.Join(projectDir, "policies")
	}
	projectModules, err := sc.Walk(policyDir, types.TierProject)
	if err != nil {
		return nil, fmt.Errorf("engine: scan project policies: %w", err)
	}
	projectBodies, err := bodiesFor(projectModules)
	if err != nil {
		return nil, err
	}
	compiled, err := ruleset.Compile(types.TierProject, projectModules, projectBodies)
	if err != nil {
		return nil, fmt.Errorf("engine: compile project policies: %w", err)
	}
	cfg.Project = compiled
	cfg.ProjectTable = router.Build(projectModules)
	cfg.ProjectTrust = trustsvc.New(filepath.Join(projectDir, ".cupcake", "trust", "manifest.yml"), nil)
	_ = cfg.ProjectTrust.Load()

	stateDir, err := config.StateDir(projectDir)
	if err != nil {
		return nil, fmt.Errorf("engine: state dir: %w", err)
	}
	cfg.Auditor = audit.NewWriter(audit.NewFileStore(filepath.Join(stateDir, "audit.ndjson")))

	if settings.DebugRouting {
		if err := dumpRouting(stateDir, cfg.GlobalTable, cfg.ProjectTable); err != nil {
			logger.Warn("failed to write routing debug dump", zap.Error(err))
		}
	}

	return New(cfg), nil
}

func bodiesFor(modules []types.PolicyModule) (map[string][]byte, error) {
	bodies := make(map[string][]byte, len(modules))
	for _, mod := range modules {
		raw, err := os.ReadFile(mod.Path)
		if err != nil {
			return nil, fmt.Errorf("engine: read policy body %s: %w", mod.Path, err)
		}
		bodies[mod.Path] = raw
	}
	return bodies, nil
}

func dumpRouting(stateDir string, global, project *router.Table) error {
	debugDir := filepath.Join(stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0o700); err != nil {
		return err
	}

	dump := map[string]any{}
	if global != nil {
		dump["global"] = global.Dump()
	}
	if project != nil {
		dump["project"] = project.Dump()
	}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(debugDir, "routing.json"), data, 0o600)
}
