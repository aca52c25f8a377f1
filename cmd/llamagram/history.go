package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect or clear stored conversation history",
	}

	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryClearCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	var (
		configPath string
		session    string
		limit      int
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a session's history",
		Long:  "Prints the newest visible turns of a session, oldest first. With --all, cleared turns are listed too.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(cmd, configPath, session, limit, all)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to llamagram config file")
	cmd.Flags().StringVarP(&session, "session", "s", "", "session ID, e.g. telegram:12345")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of turns to show")
	cmd.Flags().BoolVar(&all, "all", false, "include cleared turns")
	cmd.MarkFlagRequired("session")
	return cmd
}

func runHistoryShow(cmd *cobra.Command, configPath, session string, limit int, all bool) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if all {
		entries, err := store.Entries(ctx, session)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintf(out, "No history for %s.\n", session)
			return nil
		}
		for _, e := range entries {
			state := ""
			if e.Deleted {
				state = " (cleared)"
			}
			fmt.Fprintf(out, "#%d %s%s\n", e.ID, e.CreatedAt.Format("2006-01-02 15:04"), state)
			fmt.Fprintf(out, "  Q: %s\n  A: %s\n", e.UserPrompt, e.Answer)
		}
		return nil
	}

	turns, err := store.Recent(ctx, session, limit)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		fmt.Fprintf(out, "No history for %s.\n", session)
		return nil
	}
	for i, t := range turns {
		fmt.Fprintf(out, "%d. Q: %s\n   A: %s\n", i+1, t.UserPrompt, t.Answer)
	}
	return nil
}

func newHistoryClearCmd() *cobra.Command {
	var (
		configPath string
		session    string
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear a session's history",
		Long:  "Marks every turn of the session as cleared. Rows are kept in the database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			store, err := openHistory(cfg)
			if err != nil {
				return err
			}
			if err := store.SoftDeleteAll(cmd.Context(), session); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared history for %s\n", session)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to llamagram config file")
	cmd.Flags().StringVarP(&session, "session", "s", "", "session ID, e.g. telegram:12345")
	cmd.MarkFlagRequired("session")
	return cmd
}
