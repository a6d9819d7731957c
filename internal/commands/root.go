package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microsoft/dbgp-bridge/pkg/logger"
)

func NewRootCommand(log *logger.Logger) (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:   "dbgp-bridge",
		Short: "Debugs HHVM and Xdebug scripts with Chrome DevTools",
		Long: `dbgp-bridge lets Chrome DevTools protocol clients debug scripts running in engines
	that speak the DBGp protocol (HHVM, Xdebug).

	Clients connect to the bridge over a websocket; engines connect to the bridge over DBGp.`,
		SilenceUsage: true,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			log.Flush()
		},
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	if cmd, err := NewVersionCommand(log.Logger); err != nil {
		return nil, fmt.Errorf("could not set up 'version' command: %w", err)
	} else {
		rootCmd.AddCommand(cmd)
	}

	rootCmd.AddCommand(NewServeCommand(log.Logger))

	log.AddLevelFlag(rootCmd.PersistentFlags())

	return rootCmd, nil
}
