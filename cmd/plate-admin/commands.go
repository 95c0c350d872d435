package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"plate-lookup/internal/domain"
	"plate-lookup/internal/importer"
	"plate-lookup/internal/repository"
)

func newRootCmd(a *app) *cobra.Command {
	var community string

	root := &cobra.Command{
		Use:           "plate-admin",
		Short:         "Operator tooling for the plate lookup store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.init(cmd.Context()); err != nil {
				return err
			}
			if !cmd.Flags().Changed("community") {
				community = a.cfg.DefaultCommunity
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) { a.close() },
	}
	root.PersistentFlags().StringVarP(&community, "community", "c", "", "collection suffix of the community (e.g. _b)")

	comm := func() domain.Community { return domain.Community{Suffix: community} }

	importCmd := &cobra.Command{
		Use:   "import [file.csv|file.xlsx]",
		Short: "Batch import plates (columns DocumentID, HouseholdCode, Notes)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			rows, err := importer.ReadFile(args[0], f)
			if err != nil {
				return err
			}
			res, err := importer.New(a.store, a.logger).Import(cmd.Context(), comm(), rows)
			if err != nil {
				return err
			}
			search, _ := a.services()
			n, err := search.RecountPending(cmd.Context(), comm())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d rows (%d skipped). Pending plates: %d\n",
				res.Imported, res.Total, len(res.Skipped), n)
			return nil
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export [out.xlsx]",
		Short: "Export all plates of a community to xlsx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := importer.New(a.store, a.logger).Export(cmd.Context(), comm())
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", args[0], len(data))
			return nil
		},
	}

	var destructive bool
	rebuildCmd := &cobra.Command{
		Use:   "rebuild-parking",
		Short: "Rebuild the parking lookup index from households",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, parkingSync := a.services()
			sync := parkingSync.RebuildParkingIndex
			if destructive {
				sync = parkingSync.ResyncParkingIndex
			}
			resp, err := sync(cmd.Context(), comm())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			if resp.Destructive {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d existing entries first.\n", resp.Deleted)
			}
			return nil
		},
	}
	rebuildCmd.Flags().BoolVar(&destructive, "destructive", false, "delete every lookup entry before rebuilding")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pg, ok := a.store.(*repository.PostgresPlateStore)
			if !ok {
				return fmt.Errorf("migrate needs the postgres store")
			}
			if err := pg.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
			return nil
		},
	}

	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List plates waiting for a household code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			search, _ := a.services()
			resp, err := search.ListPending(cmd.Context(), comm())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range resp.Items {
				fmt.Fprintf(out, "%s\t%s\n", p.ID, p.Notes)
			}
			fmt.Fprintln(out, resp.Message)
			return nil
		},
	}

	root.AddCommand(importCmd, exportCmd, rebuildCmd, migrateCmd, pendingCmd)
	return root
}
