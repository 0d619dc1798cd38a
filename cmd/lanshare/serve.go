package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/lanshare/config"
	"github.com/opd-ai/lanshare/discovery"
	"github.com/opd-ai/lanshare/server"
)

// newServeCommand builds the serve subcommand. Flags are bound onto the
// viper instance so the precedence is flags > environment > file > defaults.
func newServeCommand() *cobra.Command {
	var (
		configFile string
		shares     []string
	)

	v := config.New()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sharing server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadUnvalidated(v, configFile)
			if err != nil {
				return err
			}
			extra, err := parseShareFlags(shares)
			if err != nil {
				return err
			}
			cfg.Sharings = append(cfg.Sharings, extra...)
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := cfg.ApplyLogLevel(); err != nil {
				return err
			}

			srv, err := server.New(cfg)
			if err != nil {
				return err
			}
			if err := srv.Start(); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			sig := <-stop
			logrus.WithFields(logrus.Fields{
				"function": "serve",
				"signal":   sig.String(),
			}).Info("Shutting down")
			return srv.Close()
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "configuration file (YAML)")
	flags.StringArrayVar(&shares, "share", nil, "sharing as name=path or name=path,ro (repeatable)")
	flags.String("name", "lanshare", "server name announced in discovery")
	flags.String("address", "", "bind address for the control channel")
	flags.Int("port", config.DefaultPort, "control-channel TCP port")
	flags.Int("discovery-port", discovery.DefaultPort, "discovery UDP port (0 disables)")
	flags.String("secret", "", "access secret (plaintext or scrypt$salt$hash)")
	flags.String("tls-cert", "", "TLS certificate file")
	flags.String("tls-key", "", "TLS key file")
	flags.Bool("rexec", false, "enable remote command execution")
	flags.String("metrics", "", "Prometheus metrics listen address")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	bind := map[string]string{
		"name":           "name",
		"address":        "address",
		"port":           "port",
		"discovery-port": "discovery_port",
		"secret":         "secret",
		"tls-cert":       "tls_cert",
		"tls-key":        "tls_key",
		"rexec":          "rexec_enabled",
		"metrics":        "metrics_address",
		"log-level":      "log_level",
	}
	for flag, key := range bind {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	return cmd
}

// parseShareFlags turns repeated --share values into sharing declarations.
func parseShareFlags(shares []string) ([]config.SharingConfig, error) {
	out := make([]config.SharingConfig, 0, len(shares))
	for _, s := range shares {
		name, rest, ok := strings.Cut(s, "=")
		if !ok || name == "" || rest == "" {
			return nil, fmt.Errorf("invalid --share %q, want name=path[,ro]", s)
		}
		path, opt := rest, ""
		if p, o, ok := strings.Cut(rest, ","); ok {
			path, opt = p, o
		}
		if opt != "" && opt != "ro" {
			return nil, fmt.Errorf("invalid --share option %q, only ro is known", opt)
		}
		out = append(out, config.SharingConfig{Name: name, Path: path, ReadOnly: opt == "ro"})
	}
	return out, nil
}
