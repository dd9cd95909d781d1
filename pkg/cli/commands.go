package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/framesmith/framesmith/pkg/config"
	"github.com/framesmith/framesmith/pkg/manifest"
	"github.com/framesmith/framesmith/pkg/state"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of the current or last render run",
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := state.Read(projectRoot)
			if err != nil {
				if os.IsNotExist(err) {
					printInfo("No render run recorded in this project")
					return nil
				}
				return err
			}

			if rs.Alive() {
				printInfo(fmt.Sprintf("Render run in progress (pid %d, spec %s)", rs.ProcessID, rs.SpecFile))
			} else if rs.Status != "" {
				printInfo(fmt.Sprintf("Last run %s (spec %s)", rs.Status, rs.SpecFile))
			} else {
				printInfo(fmt.Sprintf("Stale run state (pid %d, last heartbeat %s ago)",
					rs.ProcessID, time.Since(rs.Heartbeat).Round(time.Second)))
			}

			p := rs.Progress
			if p.Total > 0 {
				printInfo(fmt.Sprintf("  %d/%d completed, %d failed, %d in flight, %d pending",
					p.Completed, p.Total, p.Failed, p.InProgress, p.Pending))
				if p.CurrentThroughput > 0 {
					printInfo(fmt.Sprintf("  %.2f fps, est. %s remaining",
						p.CurrentThroughput, p.EstTimeRemaining.Round(time.Second)))
				}
			}

			if cfg, err := loadProjectConfig(); err == nil {
				if m, err := loadManifest(cfg); err == nil {
					printInfo(fmt.Sprintf("Manifest: %d frames recorded, %d completed (written %s)",
						len(m.Frames), len(m.CompletedIndices()), m.WrittenAt.Format(time.RFC3339)))
				}
			}
			return nil
		},
	}
	return cmd
}

func newCleanCmd() *cobra.Command {
	var keepManifest bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove run state and rendered artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadProjectConfig()
			if err != nil {
				return err
			}

			if rs, err := state.Read(projectRoot); err == nil && rs.Alive() {
				return fmt.Errorf("a render run appears to be in progress (pid %d); stop it first", rs.ProcessID)
			}

			if err := state.Remove(projectRoot); err != nil && !os.IsNotExist(err) {
				return err
			}

			if cfg.Worker != nil && cfg.Worker.OutputDir != "" {
				removed, err := removeArtifacts(cfg.Worker.OutputDir)
				if err != nil {
					return err
				}
				printSuccess(fmt.Sprintf("Removed %d rendered frames from %s", removed, cfg.Worker.OutputDir))
			}

			if !keepManifest && cfg.Rendering != nil && cfg.Rendering.ManifestPath != "" {
				if err := os.Remove(cfg.Rendering.ManifestPath); err == nil {
					printSuccess("Removed completion manifest")
				} else if !os.IsNotExist(err) {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepManifest, "keep-manifest", false, "keep the completion manifest")

	return cmd
}

// removeArtifacts deletes frame PNGs from dir without touching anything else
func removeArtifacts(dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default framesmith.config.json in the project root",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(projectRoot, "framesmith.config.json")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			mgr := config.NewManager()
			if err := mgr.SaveConfig(mgr.Default(), path); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Wrote %s", path))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("🎬 Framesmith v%s\n", version)
		},
	}
}

// loadManifest reads the completion manifest configured for the project,
// used by watch mode to report what the previous run accomplished.
func loadManifest(cfg *config.ProjectConfig) (*manifest.Manifest, error) {
	if cfg.Rendering == nil || cfg.Rendering.ManifestPath == "" {
		return nil, os.ErrNotExist
	}
	return manifest.Load(cfg.Rendering.ManifestPath)
}
