// Companion - personal AI companion with long-term memory
// License: MIT
//
// Copyright (c) 2026 Companion contributors

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "companion",
		Short: "Personal AI companion with long-term memory, insights, and rituals",
		Long: strings.TrimSpace(`companion is a personal AI companion runtime.

It remembers facts, emotions, and identity growth across conversations,
scans for proactive insights, and writes daily and weekly ritual recaps.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newExtractCommand())
	root.AddCommand(newRememberCommand())
	root.AddCommand(newScanCommand())
	root.AddCommand(newRitualCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.companion config and workspace",
		Example: "  companion onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard()
		},
	}
}

func newServeCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the chat gateway, memory pipeline, and scheduler",
		Long:    "Start the HTTP gateway with the streaming chat endpoint, memory endpoints, and the cron-driven insight/ritual jobs.",
		Example: "  companion serve --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newChatCommand() *cobra.Command {
	var (
		userID string
		mode   string
		debug  bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the companion from the terminal",
		Long:  "Run an interactive streaming chat session. With --user set, the companion recalls what it knows about that user.",
		Example: strings.Join([]string{
			"  companion chat --user me",
			"  companion chat --user me --mode growth_partner",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return chatCmd(userID, mode, debug)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID for memory recall and extraction")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Companion mode (assistant, growth_partner, therapist_lite, strategic, casual, creative, technical)")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newExtractCommand() *cobra.Command {
	var (
		userID         string
		conversationID string
		file           string
	)

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run memory extraction on a transcript",
		Long:  "Read a JSON transcript ([{role, content}, ...]) from a file or stdin and run the extraction pipeline for a user.",
		Example: strings.Join([]string{
			"  companion extract --user me --file transcript.json",
			"  cat transcript.json | companion extract --user me",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("--user is required")
			}
			return extractCmd(userID, conversationID, file)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID to attribute the extraction to")
	cmd.Flags().StringVarP(&conversationID, "conversation", "c", "", "Conversation ID for traceability")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Transcript file (defaults to stdin)")
	return cmd
}

func newRememberCommand() *cobra.Command {
	var (
		userID   string
		category string
	)

	cmd := &cobra.Command{
		Use:     "remember <key> <value>",
		Short:   "Store an explicit memory fact",
		Args:    cobra.ExactArgs(2),
		Example: "  companion remember --user me --category goal run_marathon \"Run a marathon in 2027\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("--user is required")
			}
			return rememberCmd(userID, category, args[0], args[1])
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID")
	cmd.Flags().StringVarP(&category, "category", "c", "fact", "Fact category")
	return cmd
}

func newScanCommand() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:     "scan",
		Short:   "Run the proactive insight scan for a user",
		Example: "  companion scan --user me",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("--user is required")
			}
			return scanCmd(userID)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID")
	return cmd
}

func newRitualCommand() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:       "ritual <daily|weekly>",
		Short:     "Generate a daily recap or weekly reset",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"daily", "weekly"},
		Example: strings.Join([]string{
			"  companion ritual daily --user me",
			"  companion ritual weekly --user me",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("--user is required")
			}
			return ritualCmd(userID, args[0])
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User ID")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and runtime readiness",
		Example: "  companion status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  companion version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func exitOnConfigError(err error) {
	fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
	os.Exit(1)
}
