package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/opd-ai/lanshare/discovery"
	"github.com/opd-ai/lanshare/wire"
)

// newDiscoverCommand builds the discover subcommand: broadcast a probe and
// print every server that answers within the window.
func newDiscoverCommand() *cobra.Command {
	var (
		port    int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find lanshare servers on the local network",
		RunE: func(cmd *cobra.Command, _ []string) error {
			found := 0
			err := discovery.Discover(port, timeout, func(info *wire.ServerInfo) bool {
				found++
				printServer(cmd, info)
				return true
			})
			if err != nil {
				return err
			}
			if found == 0 {
				cmd.Println("no servers found")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", discovery.DefaultPort, "discovery UDP port")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to wait for answers")
	return cmd
}

func printServer(cmd *cobra.Command, info *wire.ServerInfo) {
	flags := ""
	if info.AuthRequired {
		flags += " auth"
	}
	if info.SSLEnabled {
		flags += " tls"
	}
	cmd.Printf("%s  %s:%d%s\n", info.Name, info.IP, info.Port, flags)
	for _, sh := range info.Sharings {
		mode := "rw"
		if sh.ReadOnly {
			mode = "ro"
		}
		cmd.Printf("  %s (%s)\n", sh.Name, mode)
	}
}
