package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cubeward/cubeward/pkg/client"
)

func newProfileCmd(flags *apiFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage server profiles",
	}
	cmd.AddCommand(newProfileListCmd(flags))
	cmd.AddCommand(newProfileShowCmd(flags))
	cmd.AddCommand(newProfileSaveCmd(flags))
	cmd.AddCommand(newProfileDeleteCmd(flags))
	cmd.AddCommand(newProfileActivateCmd(flags))
	return cmd
}

func newProfileListCmd(flags *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				ps, err := c.Profiles(ctx)
				if err != nil {
					return err
				}
				for _, p := range ps {
					fmt.Printf("%-20s %s\n", p.Name, p.ServerPath)
				}
				return nil
			})
		},
	}
}

func newProfileShowCmd(flags *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Show one profile as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				p, err := c.GetProfile(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func newProfileSaveCmd(flags *apiFlags) *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or replace a profile from a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var p client.Profile
			if err := json.Unmarshal(data, &p); err != nil {
				return fmt.Errorf("parse %s: %w", filePath, err)
			}
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				return c.SaveProfile(ctx, p)
			})
		},
	}
	cmd.Flags().StringVarP(&filePath, "file", "f", "", "profile JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newProfileDeleteCmd(flags *apiFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				return c.DeleteProfile(ctx, args[0])
			})
		},
	}
}

func newProfileActivateCmd(flags *apiFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "activate <name>",
		Short: "Make a profile active, tearing down the current one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(flags, func(ctx context.Context, c *client.Client) error {
				return c.ActivateProfile(ctx, args[0], force)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-activate even if already active")
	return cmd
}
