package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage staff API keys",
		Long:  "Create, list and revoke the API keys that authorize write requests to the HTTP API.",
	}

	cmd.AddCommand(newKeysCreateCmd(), newKeysListCmd(), newKeysDeleteCmd())
	return cmd
}

func newKeysCreateCmd() *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an API key",
		Long:  "Create an API key owned by a staff email. The key is printed once and cannot be shown again.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysCreate(cmd, strings.Join(args, " "), email)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "staff email that owns the key (required)")

	return cmd
}

func runKeysCreate(cmd *cobra.Command, name, email string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("--email is required")
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	raw, key, err := a.keys.Create(cmd.Context(), name, email)
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), map[string]any{"key": raw, "api_key": key})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "API key #%d created for %s.\n", key.ID, key.Email)
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", raw)
	fmt.Fprintln(cmd.OutOrStdout(), "Store it now; it will not be shown again.")
	return nil
}

func newKeysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		Args:  cobra.NoArgs,
		RunE:  runKeysList,
	}
}

func runKeysList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := a.keys.List(cmd.Context())
	if err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), keys)
	}
	return printKeyTable(cmd.OutOrStdout(), keys)
}

func newKeysDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE:  runKeysDelete,
	}
}

func runKeysDelete(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid key ID: %s", args[0])
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.keys.Delete(cmd.Context(), id); err != nil {
		return err
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"id":      id,
			"revoked": true,
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "API key #%d revoked.\n", id)
	return nil
}
