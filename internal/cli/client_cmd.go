package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/sla-engine/internal/auth"
)

// ClientCmd returns the API client command group.
func ClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage API client credentials",
	}
	hash := &cobra.Command{
		Use:   "entry <client-id> <secret>",
		Short: "Print an AUTH_CLIENTS entry with a bcrypt-hashed secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			cost, _ := cmd.Flags().GetInt("cost")
			hashed, err := auth.HashSecret(args[1], cost)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s:%s\n", args[0], hashed, auth.ParseRole(role))
			return nil
		},
	}
	hash.Flags().String("role", string(auth.RoleReader), "reader, ingest or operator")
	hash.Flags().Int("cost", 12, "bcrypt cost")
	cmd.AddCommand(hash)
	return cmd
}
