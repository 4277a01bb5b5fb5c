package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/listing-publisher/internal/clock/system"
	"github.com/JakeFAU/listing-publisher/internal/publish"
	"github.com/JakeFAU/listing-publisher/internal/server"
)

func newListingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listings",
		Short: "Reads the listing store",
	}
	cmd.AddCommand(newListingsListCmd())
	return cmd
}

func newListingsListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Prints stored listings in display order as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			store, err := server.OpenStore(cmd.Context(), rt.cfg, system.New(), rt.logger)
			if err != nil {
				return err
			}
			defer store.Close()

			var listings []publish.Listing
			if status == "" {
				listings, err = store.GetAll(cmd.Context())
			} else {
				s := publish.Status(status)
				if !s.Valid() {
					return fmt.Errorf("unknown status %q", status)
				}
				listings, err = store.ListByStatus(cmd.Context(), s)
			}
			if err != nil {
				return fmt.Errorf("list listings: %w", err)
			}
			if listings == nil {
				listings = []publish.Listing{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(listings); err != nil {
				return fmt.Errorf("write listings: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only listings in this status (waiting, processing, posted, error)")
	return cmd
}
