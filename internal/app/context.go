package app

import (
	"context"
	"errors"
	"fmt"

	"reportline/internal/config"
	"reportline/internal/repo"
)

// DefaultWorkspaceID is used when neither flag nor config names one.
const DefaultWorkspaceID = "default"

// ResolveConfig picks the active workspace config. Precedence: an explicit
// reportline.yml in the workspace directory, then the config stored in the
// database, then seeded defaults. The resolved config always ends up in
// the database so the API and CLI agree on it.
func ResolveConfig(ctx context.Context, workspace, workspaceOverride string, r repo.Repo) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}

	workspaceID := workspaceOverride
	if workspaceID == "" && fileCfg != nil {
		workspaceID = fileCfg.Workspace.ID
	}
	if workspaceID == "" {
		workspaceID = DefaultWorkspaceID
	}

	if fileCfg != nil {
		if err := r.UpsertWorkspaceConfig(ctx, workspaceID, fileCfg); err != nil {
			return "", nil, fmt.Errorf("store workspace config: %w", err)
		}
		return workspaceID, fileCfg, nil
	}

	cfg, err := r.GetWorkspaceConfig(ctx, workspaceID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		cfg = config.Default(workspaceID)
		if err := r.UpsertWorkspaceConfig(ctx, workspaceID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed workspace config: %w", err)
		}
	}
	return workspaceID, cfg, nil
}
