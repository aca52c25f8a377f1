package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zulandar/llamagram/internal/prompt"
)

func newPromptCmd() *cobra.Command {
	var (
		configPath string
		session    string
		raw        bool
	)

	cmd := &cobra.Command{
		Use:   "prompt [text]",
		Short: "Print the prompt the engine would receive",
		Long:  "Builds the prompt for text exactly as the bot would, including the session's history when enabled, and prints it.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			var reader prompt.HistoryReader
			if cfg.History.Enabled && session != "" {
				store, err := openHistory(cfg)
				if err != nil {
					return err
				}
				reader = store
			}
			builder, err := newBuilder(cfg, reader)
			if err != nil {
				return err
			}

			mode := prompt.ModeTemplated
			if raw {
				mode = prompt.ModeRaw
			}
			text, err := builder.Build(cmd.Context(), session, strings.Join(args, " "), mode)
			if err != nil {
				log.Printf("prompt: %v", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to llamagram config file")
	cmd.Flags().StringVarP(&session, "session", "s", "", "session whose history to include")
	cmd.Flags().BoolVar(&raw, "raw", false, "raw mode: no template, no history")
	return cmd
}
