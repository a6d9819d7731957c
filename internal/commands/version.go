package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/dbgp-bridge/internal/version"
)

const (
	//  If set, the value of this variable will be written to the log as one of the first log messages.
	DBGP_BRIDGE_LOGGING_CONTEXT = "DBGP_BRIDGE_LOGGING_CONTEXT"

	outputFlagName = "output"
	outputJSON     = "json"
	outputText     = "text"
)

func NewVersionCommand(log logr.Logger) (*cobra.Command, error) {
	var output string

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Prints version information",
		Long:  `Prints the bridge version, the commit it was built from, and the Chrome DevTools protocol version it implements.`,
		RunE:  printVersion(log, &output),
		Args:  cobra.NoArgs,
	}

	versionCmd.Flags().StringVarP(&output, outputFlagName, "o", outputJSON, "Output format, 'json' or 'text'.")

	return versionCmd, nil
}

func printVersion(log logr.Logger, output *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log := log.WithName("version")

		switch strings.ToLower(*output) {
		case outputJSON:
			v, err := json.Marshal(version.Version())
			if err != nil {
				log.Error(err, "Could not serialize version information")
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(v))
			return err

		case outputText:
			return writeVersionText(cmd.OutOrStdout(), version.Version())

		default:
			return fmt.Errorf("unknown output format '%s'", *output)
		}
	}
}

func writeVersionText(w io.Writer, v version.VersionOutput) error {
	details := []string{"protocol " + v.Protocol, v.GoVersion}
	if v.CommitHash != "" {
		details = append(details, "commit "+v.CommitHash)
	}
	if v.BuildTime != nil {
		details = append(details, "built "+v.BuildTime.Format("2006-01-02T15:04:05Z07:00"))
	}
	_, err := fmt.Fprintf(w, "%s %s (%s)\n", version.ProductName, v.Version, strings.Join(details, ", "))
	return err
}

// LogStartup writes the process identity to the log when a long-running command starts.
func LogStartup(log logr.Logger, programStartMsg string) func(_ *cobra.Command, _ []string) {
	return func(_ *cobra.Command, _ []string) {
		launchPath, pathErr := os.Executable()
		if pathErr != nil {
			launchPath = os.Args[0]
		}

		v := version.Version()
		log.V(1).Info(programStartMsg,
			"PID", os.Getpid(),
			"Exe", launchPath,
			"Args", os.Args[1:],
			"Version", v.Version,
			"Commit", v.CommitHash,
		)

		if logContext, found := os.LookupEnv(DBGP_BRIDGE_LOGGING_CONTEXT); found && len(logContext) > 0 {
			log.V(1).Info(logContext)
		}
	}
}
