package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/microsoft/dbgp-bridge/internal/config"
	"github.com/microsoft/dbgp-bridge/internal/server"
)

const (
	configFlagName            = "config"
	listenFlagName            = "listen"
	dbgpAddressFlagName       = "dbgp-address"
	dbgpPortFlagName          = "dbgp-port"
	ideKeyFlagName            = "idekey"
	pidFlagName               = "pid"
	scriptRegexFlagName       = "script-regex"
	endWhenNoRequestsFlagName = "end-when-no-requests"
	commandTimeoutFlagName    = "command-timeout"
)

type serveFlags struct {
	configFile        string
	listen            string
	dbgpAddress       string
	dbgpPort          int
	ideKey            string
	pid               int
	scriptRegex       string
	endWhenNoRequests bool
	commandTimeout    time.Duration
}

func NewServeCommand(log logr.Logger) *cobra.Command {
	flags := &serveFlags{}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Accepts Chrome DevTools clients and DBGp engines and bridges between them",
		Long: `Accepts Chrome DevTools clients and DBGp engines and bridges between them.

	Clients discover the debugging target at http://<listen>/json and connect to the websocket it names.
	While a client is connected, engines are accepted on the DBGp port.`,
		PreRun: LogStartup(log, "Starting DBGp bridge..."),
		RunE:   serve(log, flags),
		Args:   cobra.NoArgs,
	}

	addServeFlags(serveCmd.Flags(), flags)

	return serveCmd
}

func addServeFlags(fs *pflag.FlagSet, flags *serveFlags) {
	defaults := config.Default()

	fs.StringVarP(&flags.configFile, configFlagName, "c", "", "Path to a YAML configuration file. Command line flags take precedence over values from the file.")
	fs.StringVarP(&flags.listen, listenFlagName, "l", defaults.Listen, "Address (host:port) to accept Chrome DevTools clients on.")
	fs.StringVar(&flags.dbgpAddress, dbgpAddressFlagName, defaults.DBGp.Address, "Address to accept DBGp engine connections on. All interfaces if empty.")
	fs.IntVarP(&flags.dbgpPort, dbgpPortFlagName, "p", defaults.DBGp.Port, "Port to accept DBGp engine connections on. Zero picks a free port.")
	fs.StringVar(&flags.ideKey, ideKeyFlagName, "", "If present, only engines announcing this IDE key are debugged.")
	fs.IntVar(&flags.pid, pidFlagName, 0, "If present, only engines of this process ID are debugged.")
	fs.StringVar(&flags.scriptRegex, scriptRegexFlagName, "", "If present, only engines running a script whose path matches this regular expression are debugged.")
	fs.BoolVar(&flags.endWhenNoRequests, endWhenNoRequestsFlagName, false, "End the debugging session when the last engine goes away.")
	fs.DurationVar(&flags.commandTimeout, commandTimeoutFlagName, time.Duration(defaults.CommandTimeout), "Upper bound for handling a single Chrome DevTools command. A negative value disables the bound.")
}

// Loads the configuration file and applies the flags that were set explicitly on top of it.
func (flags *serveFlags) resolve(fs *pflag.FlagSet) (config.Config, error) {
	cfg, loadErr := config.Load(flags.configFile)
	if loadErr != nil {
		return config.Config{}, loadErr
	}

	if fs.Changed(listenFlagName) {
		cfg.Listen = flags.listen
	}
	if fs.Changed(dbgpAddressFlagName) {
		cfg.DBGp.Address = flags.dbgpAddress
	}
	if fs.Changed(dbgpPortFlagName) {
		cfg.DBGp.Port = flags.dbgpPort
	}
	if fs.Changed(ideKeyFlagName) {
		cfg.DBGp.IDEKey = flags.ideKey
	}
	if fs.Changed(pidFlagName) {
		cfg.DBGp.PID = flags.pid
	}
	if fs.Changed(scriptRegexFlagName) {
		cfg.DBGp.ScriptRegex = flags.scriptRegex
	}
	if fs.Changed(endWhenNoRequestsFlagName) {
		cfg.DBGp.EndDebugWhenNoRequests = flags.endWhenNoRequests
	}
	if fs.Changed(commandTimeoutFlagName) {
		cfg.CommandTimeout = config.Duration(flags.commandTimeout)
	}

	if validationErr := cfg.Validate(); validationErr != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", validationErr)
	}
	return cfg, nil
}

func serve(log logr.Logger, flags *serveFlags) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log := log.WithName("serve")

		cfg, cfgErr := flags.resolve(cmd.Flags())
		if cfgErr != nil {
			return cfgErr
		}

		srv := server.NewServer(cfg, log)
		runErr := srv.Run(cmd.Context())
		if runErr != nil && !errors.Is(runErr, cmd.Context().Err()) {
			log.Error(runErr, "DBGp bridge failed")
			return runErr
		}

		log.Info("DBGp bridge stopped")
		return nil
	}
}
