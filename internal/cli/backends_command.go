package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tapedeck.dev/internal/engine"
)

// newBackendsCommand creates the backends subcommand
func newBackendsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List audio backends",
		Long:  "Backends lists the supported audio backends and which one auto selection would pick on this system.",
		Args:  cobra.NoArgs,
		RunE:  runBackendsE,
	}
}

func runBackendsE(cmd *cobra.Command, args []string) error {
	cli := cliFromContext(cmd.Context())
	if cli == nil {
		return fmt.Errorf("CLI instance not found in context")
	}

	cfg, err := loadAndValidateConfig(cmd, cli)
	if err != nil {
		return err
	}
	setupLogging(cfg, cmd.ErrOrStderr())

	detected := engine.DetectOptimalBackend()

	for _, backend := range cli.engineFactory.SupportedBackends() {
		marker := " "
		if backend == detected {
			marker = "*"
		}
		cmd.Printf("%s %s\n", marker, backend)
	}
	cmd.Printf("\nConfigured backend: %s\n", cfg.AudioBackend)

	return nil
}
