package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace all houses with the published sheet",
		Long:  "Fetch the published CSV sheet, delete every house, and insert one house per row. Nothing is deleted if the sheet cannot be fetched or parsed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, url)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "CSV URL (default: import.csv_url from config)")

	return cmd
}

func runImport(cmd *cobra.Command, url string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.newImportJob(cmd.Context(), url)
	if err != nil {
		return err
	}

	res, err := job.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("importing: %w", err)
	}

	if isJSON() {
		return printJSON(cmd.OutOrStdout(), res)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d houses", res.Succeeded)
	if res.Failed > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), " (%d rows failed)", res.Failed)
	}
	fmt.Fprintln(cmd.OutOrStdout(), ".")
	if res.ArchiveKey != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Sheet archived as %s\n", res.ArchiveKey)
	}
	return nil
}
