// Command lanshare runs the LAN directory-sharing server and the discovery
// probe.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "lanshare",
		Short: "Share directories over the local network",
		Long: "lanshare advertises named directories on the LAN. Clients discover\n" +
			"servers with a UDP broadcast, connect to a sharing and transfer files\n" +
			"over length-prefixed JSON frames with a per-transfer side channel.",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newDiscoverCommand())

	if err := root.Execute(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("Command failed")
		os.Exit(1)
	}
}
