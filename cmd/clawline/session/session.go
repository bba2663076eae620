// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the "clawline session" command group:
// listing the session store and rendering a session's transcript.
package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/clawline/clawline/cmd/clawline/cli"
	"github.com/clawline/clawline/lib/config"
	"github.com/clawline/clawline/lib/render"
	"github.com/clawline/clawline/lib/target"
	sessionstore "github.com/clawline/clawline/session"
)

// Command returns the "session" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "session",
		Summary: "inspect recorded sessions and their transcripts",
		Subcommands: []*cli.Command{
			listCommand(),
			showCommand(),
		},
	}
}

// storeFor resolves the session store from --state-dir or the
// configuration.
func storeFor(stateDir string) (*sessionstore.Store, sessionstore.Paths, error) {
	if stateDir == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, sessionstore.Paths{}, err
		}
		stateDir = cfg.StateDir
	}
	paths := sessionstore.Paths{StateDir: stateDir}
	return sessionstore.NewStore(paths.StorePath()), paths, nil
}

func listCommand() *cli.Command {
	var stateDir string
	return &cli.Command{
		Name:    "list",
		Summary: "list recorded sessions",
		Usage:   "clawline session list [--state-dir <path>]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flagSet.StringVar(&stateDir, "state-dir", "", "state directory (default: from configuration)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("session list takes no arguments")
			}
			store, _, err := storeFor(stateDir)
			if err != nil {
				return err
			}
			entries, err := store.Load(context.Background())
			if err != nil {
				return fmt.Errorf("loading session store: %w", err)
			}

			keys := make([]string, 0, len(entries))
			for key := range entries {
				keys = append(keys, key)
			}
			// Most recent activity first.
			sort.Slice(keys, func(i, j int) bool {
				return entries[keys[i]].UpdatedAt.After(entries[keys[j]].UpdatedAt)
			})

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSESSION\tNAME\tLAST TO\tUPDATED")
			for _, key := range keys {
				entry := entries[key]
				name := entry.DisplayName
				if name == "" {
					name = "-"
				}
				lastTo := entry.LastTo
				if lastTo == "" {
					lastTo = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					key, entry.SessionID, name, lastTo,
					entry.UpdatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

// transcriptLine is one agent turn in a session's JSONL transcript.
// Lines with other shapes are skipped, not rejected; the transcript is
// append-only and may hold records this CLI version does not know.
type transcriptLine struct {
	Timestamp time.Time `json:"timestamp"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
}

var (
	roleUserStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	roleAssistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

func showCommand() *cli.Command {
	var (
		stateDir string
		agentID  string
	)
	return &cli.Command{
		Name:    "show",
		Summary: "render a session's transcript",
		Usage:   "clawline session show <target-or-session-key> [--agent <id>] [--state-dir <path>]",
		Description: "Render the transcript for a session. The argument is either a\n" +
			"short delivery target (user:label) or a full session key.\n" +
			"Assistant turns are rendered as markdown.",
		Examples: []cli.Example{
			{Command: "clawline session show flynn:ops"},
			{Command: "clawline session show agent:main:clawline:flynn:ops"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flagSet.StringVar(&stateDir, "state-dir", "", "state directory (default: from configuration)")
			flagSet.StringVar(&agentID, "agent", "", "agent id for short targets (default: from configuration)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: clawline session show <target-or-session-key>")
			}
			store, _, err := storeFor(stateDir)
			if err != nil {
				return err
			}
			sessionKey, err := resolveKey(args[0], agentID)
			if err != nil {
				return err
			}

			entries, err := store.Load(context.Background())
			if err != nil {
				return fmt.Errorf("loading session store: %w", err)
			}
			entry, ok := entries[sessionKey]
			if !ok {
				return fmt.Errorf("no session recorded for %s", sessionKey)
			}
			if entry.SessionFile == "" {
				return fmt.Errorf("session %s has no transcript yet", entry.SessionID)
			}
			return renderTranscript(entry.SessionFile)
		},
	}
}

// resolveKey turns the command argument into a session key. A short
// delivery target needs an agent id; a full session key is validated
// and used as-is.
func resolveKey(raw, agentID string) (string, error) {
	if parsed, err := target.Parse(raw); err == nil {
		if agentID == "" {
			cfg, err := config.Load()
			if err != nil {
				return "", err
			}
			agentID = cfg.Agent.ID
		}
		return parsed.SessionKey(agentID), nil
	}

	if _, err := target.FromSessionKey(raw); err != nil {
		return "", fmt.Errorf("%q is neither a delivery target nor a session key: %w", raw, err)
	}
	return raw, nil
}

func renderTranscript(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	defer file.Close()

	width := renderWidth()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line transcriptLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil || line.Text == "" {
			continue
		}

		header := roleAssistantStyle.Render(line.Role)
		if line.Role == "user" {
			header = roleUserStyle.Render(line.Role)
		}
		if !line.Timestamp.IsZero() {
			header += " " + timestampStyle.Render(line.Timestamp.UTC().Format(time.RFC3339))
		}
		fmt.Println(header)

		if line.Role == "user" {
			fmt.Println(line.Text)
		} else {
			fmt.Print(render.Markdown(line.Text, width))
		}
		fmt.Println()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading transcript: %w", err)
	}
	return nil
}

// renderWidth picks the markdown wrap width from the terminal, capped
// for readability; non-terminal output gets a fixed width.
func renderWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 80
	}
	if width > 100 {
		return 100
	}
	return width
}
