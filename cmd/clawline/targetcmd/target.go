// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package targetcmd implements "clawline target": debugging helpers
// for delivery targets and session keys.
package targetcmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/clawline/clawline/cmd/clawline/cli"
	"github.com/clawline/clawline/lib/target"
)

// Command returns the "target" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "target",
		Summary: "inspect delivery targets and session keys",
		Subcommands: []*cli.Command{
			inspectCommand(),
		},
	}
}

func inspectCommand() *cli.Command {
	var agentID string
	return &cli.Command{
		Name:    "inspect",
		Summary: "decode a delivery target or session key",
		Usage:   "clawline target inspect <target-or-session-key> [--agent <id>]",
		Description: "Decode the argument as either a short delivery target\n" +
			"(user:label) or a full session key and print its components\n" +
			"plus the derived forms.",
		Examples: []cli.Example{
			{Command: "clawline target inspect flynn:ops"},
			{Command: "clawline target inspect agent:main:clawline:flynn:ops"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("inspect", pflag.ContinueOnError)
			flagSet.StringVar(&agentID, "agent", target.DefaultAgentID, "agent id used when deriving the session key")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: clawline target inspect <target-or-session-key>")
			}
			raw := args[0]

			parsed, parseErr := target.Parse(raw)
			form := "delivery target"
			if parseErr != nil {
				fromKey, keyErr := target.FromSessionKey(raw)
				if keyErr != nil {
					return fmt.Errorf("%q is not a delivery target (%v) nor a session key (%v)", raw, parseErr, keyErr)
				}
				parsed = fromKey
				form = "session key"
				keyAgent, err := target.AgentIDFromSessionKey(raw)
				if err == nil {
					agentID = keyAgent
				}
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintf(tw, "input form\t%s\n", form)
			fmt.Fprintf(tw, "user\t%s\n", parsed.UserID())
			fmt.Fprintf(tw, "session label\t%s\n", parsed.SessionLabel())
			fmt.Fprintf(tw, "short form\t%s\n", parsed.String())
			fmt.Fprintf(tw, "agent\t%s\n", agentID)
			fmt.Fprintf(tw, "session key\t%s\n", parsed.SessionKey(agentID))
			return tw.Flush()
		},
	}
}
