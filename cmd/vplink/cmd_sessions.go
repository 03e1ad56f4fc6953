package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func sessionsCmd(load loader) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded transport sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.db == nil {
				return fmt.Errorf("journal is disabled; set journal.path in the config")
			}

			sessions, err := a.journal.Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tVARIANT\tSTATE\tOPENED\tCLOSED\tERROR")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Variant, s.State, s.OpenedAt, s.ClosedAt, s.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions to list (0 for all)")
	cmd.AddCommand(sessionEventsCmd(load))
	return cmd
}

func sessionEventsCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "events <session-id>",
		Short: "List the lifecycle events of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.db == nil {
				return fmt.Errorf("journal is disabled; set journal.path in the config")
			}

			events, err := a.journal.Events(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", e.CreatedAt, e.Kind)
			}
			return nil
		},
	}
}
