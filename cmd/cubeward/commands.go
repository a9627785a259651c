package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cubeward/cubeward/pkg/client"
)

func newClient(flags *apiFlags) *client.Client {
	return client.New(client.Config{BaseURL: flags.URL, Timeout: flags.Timeout})
}

func withClient(flags *apiFlags, fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), flags.Timeout)
	defer cancel()
	return fn(ctx, newClient(flags))
}

func newStatusCmd(flags *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the state of all managed roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				st, err := c.Status(ctx)
				if err != nil {
					return err
				}
				if st.Profile != "" {
					fmt.Printf("profile: %s\n", st.Profile)
				} else {
					fmt.Println("profile: (none active)")
				}
				for _, rs := range st.Roles {
					line := fmt.Sprintf("%-8s %s", rs.Role, rs.State)
					if rs.PID != 0 {
						line += fmt.Sprintf(" (pid %d, up %ds)", rs.PID, rs.UptimeSec)
					}
					fmt.Println(line)
				}
				if m := st.Monitor; m != nil {
					fmt.Printf("monitor: idle %s of %s, players %d\n",
						m.IdleFor, m.Limit, m.LastSample.PlayerCount)
				}
				return nil
			})
		},
	}
}

func newServerCmd(flags *apiFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Control the game server process",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the server for the active profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				return c.StartServer(ctx)
			})
		},
	})

	var force bool
	stop := &cobra.Command{
		Use:   "stop",
		Short: "Stop the server (graceful unless --force)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				return c.StopServer(ctx, force)
			})
		},
	}
	stop.Flags().BoolVarP(&force, "force", "f", false, "kill without a graceful phase")
	cmd.AddCommand(stop)

	cmd.AddCommand(&cobra.Command{
		Use:   "restart",
		Short: "Restart the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				return c.RestartServer(ctx)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "command <console command>",
		Short: "Send a console command to the running server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				out, err := c.SendCommand(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				if out != "" {
					fmt.Println(out)
				}
				return nil
			})
		},
	})
	return cmd
}

func newTunnelCmd(flags *apiFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "tunnel", Short: "Control the tunnel client"}
	cmd.AddCommand(&cobra.Command{
		Use: "start", Short: "Start the tunnel client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				return c.StartTunnel(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "stop", Short: "Stop the tunnel client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				return c.StopTunnel(ctx)
			})
		},
	})
	return cmd
}

func newProxyCmd(flags *apiFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "proxy", Short: "Control the reverse proxy"}
	cmd.AddCommand(&cobra.Command{
		Use: "start", Short: "Start the reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				return c.StartProxy(ctx)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "stop", Short: "Stop the reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				return c.StopProxy(ctx)
			})
		},
	})
	return cmd
}

func newLogsCmd(flags *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logs",
		Short: "Print the retained server console tail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				lines, err := c.Logs(ctx)
				if err != nil {
					return err
				}
				for _, l := range lines {
					fmt.Println(l)
				}
				return nil
			})
		},
	}
}

func newAckCmd(flags *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "acknowledge <role>",
		Short: "Clear a failed role back to stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				return c.Acknowledge(ctx, args[0])
			})
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
