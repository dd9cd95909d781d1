package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/framesmith/framesmith/internal/pool"
	"github.com/framesmith/framesmith/pkg/interfaces"
	"github.com/framesmith/framesmith/pkg/renderer"
	"github.com/framesmith/framesmith/pkg/types"
)

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run a render worker process (internal)",
		Hidden: true,
		Long: `Run a single render worker speaking the newline-delimited JSON
protocol over stdin/stdout. The render supervisor launches these itself;
there is normally no reason to invoke this command by hand.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pool.RunWorker(os.Stdin, os.Stdout, workerSetup)
		},
	}
	return cmd
}

// workerSetup builds the production render function from the worker config
// delivered in the init message.
func workerSetup(cfg *types.WorkerConfig) (interfaces.RenderFunc, error) {
	if err := renderer.Initialize(cfg); err != nil {
		return nil, err
	}
	return renderer.New(cfg), nil
}
