package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/termpal/internal/config"
	"github.com/stellarlinkco/termpal/internal/cron"
	"github.com/stellarlinkco/termpal/internal/oauth"
	"github.com/stellarlinkco/termpal/internal/skills"
	"github.com/stellarlinkco/termpal/internal/tasks"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show termpal status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var tutorialCmd = &cobra.Command{
	Use:   "tutorial",
	Short: "Show example requests",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprint(cmd.OutOrStdout(), tutorialText)
	},
}

func runStatus(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	if _, err := os.Stat(config.ConfigPath()); err != nil {
		fmt.Fprintf(out, "Config: %s (not found, run 'termpal config setup')\n", config.ConfigPath())
	} else {
		fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	}
	if _, err := os.Stat(cfg.Agent.Workspace); err != nil {
		fmt.Fprintf(out, "Workspace: %s (not found, run 'termpal config setup')\n", cfg.Agent.Workspace)
	} else {
		fmt.Fprintf(out, "Workspace: %s\n", cfg.Agent.Workspace)
	}
	fmt.Fprintf(out, "Provider: %s\n", cfg.Provider.Type)
	fmt.Fprintf(out, "Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(out, "API Key: %s\n", config.MaskSecret(cfg.Provider.APIKey))
	fmt.Fprintf(out, "Tool strategy: %s\n", cfg.Agent.ToolStrategy)
	fmt.Fprintf(out, "Streaming: %v\n", cfg.Agent.Stream)

	store := newCredentialStore()
	now := time.Now()
	for _, svc := range oauth.Services() {
		fmt.Fprintf(out, "%s: %s\n", titleCase(svc), serviceStatus(cfg, store, svc, now))
	}
	if cfg.Notify.Telegram.Enabled {
		fmt.Fprintf(out, "Telegram: enabled (chat %d)\n", cfg.Notify.Telegram.ChatID)
	} else {
		fmt.Fprintln(out, "Telegram: disabled")
	}

	if cfg.Skills.Enabled {
		loaded, err := skills.LoadSkills(cfg.Skills.Dir)
		if err != nil {
			fmt.Fprintf(out, "Skills: error (%v)\n", err)
		} else {
			fmt.Fprintf(out, "Skills: %d in %s\n", len(loaded), cfg.Skills.Dir)
		}
	} else {
		fmt.Fprintln(out, "Skills: disabled")
	}

	printTaskStatus(cmd, out, cfg.Tasks.DBPath)

	reminders := cron.NewService(cfg.Reminders.StorePath)
	if err := reminders.Load(); err != nil {
		fmt.Fprintf(out, "Reminders: error (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Reminders: %d\n", len(reminders.ListJobs()))
	}
	return nil
}

func printTaskStatus(cmd *cobra.Command, out io.Writer, path string) {
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(out, "Tasks: none yet")
		return
	}
	store, err := tasks.Open(path)
	if err != nil {
		fmt.Fprintf(out, "Tasks: error (%v)\n", err)
		return
	}
	defer store.Close()
	pending, err := store.List(cmdContext(cmd), tasks.StatusPending)
	if err != nil {
		fmt.Fprintf(out, "Tasks: error (%v)\n", err)
		return
	}
	fmt.Fprintf(out, "Tasks: %d pending\n", len(pending))
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

const tutorialText = `termpal understands plain requests and picks the right tool. Try:

  What time is it in Tokyo?
  Add a high priority task to renew my passport, due 2026-11-30
  Show my tasks, then mark task 2 as done
  Remind me to stretch in 45m
  Remind me every day at 9am to check the build       (cron: "0 9 * * *")
  What's the status of this repo? Show the last 5 commits
  Show me main.go
  Play Bohemian Rhapsody on Spotify
  What's on my calendar for the next 3 days?
  Do I have unread mail?

Several requests in one message run in order, so "add a task and list my
tasks" shows the new task.

In a session:
  /tools    list tools       /history  show the conversation
  /stats    session info     /clear    start over
  exit      quit             Ctrl-C    cancel the current answer

Spotify, Calendar and Gmail need 'termpal config setup' for the OAuth app
and then 'termpal auth spotify' or 'termpal auth google'.
`
