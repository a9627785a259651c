package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// apiFlags holds the connection flags shared by client subcommands.
type apiFlags struct {
	URL     string
	Timeout time.Duration
}

func (f *apiFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.URL, "api-url", "http://localhost:8080", "panel API base URL")
	cmd.PersistentFlags().DurationVar(&f.Timeout, "api-timeout", 10*time.Second, "API request timeout")
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "cubeward",
		Short:         "Game server control panel with inactivity-driven sleep",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := &apiFlags{}
	flags.register(root)

	root.AddCommand(newServeCmd())
	root.AddCommand(newStatusCmd(flags))
	root.AddCommand(newServerCmd(flags))
	root.AddCommand(newTunnelCmd(flags))
	root.AddCommand(newProxyCmd(flags))
	root.AddCommand(newLogsCmd(flags))
	root.AddCommand(newAckCmd(flags))
	root.AddCommand(newProfileCmd(flags))
	return root
}
