// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Clawline is the operator CLI for the clawline daemon: device and
// pairing management, session inspection, attachment store access,
// and target debugging.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/clawline/clawline/cmd/clawline/cli"
	"github.com/clawline/clawline/cmd/clawline/device"
	"github.com/clawline/clawline/cmd/clawline/media"
	"github.com/clawline/clawline/cmd/clawline/session"
	"github.com/clawline/clawline/cmd/clawline/targetcmd"
	"github.com/clawline/clawline/lib/config"
	"github.com/clawline/clawline/lib/process"
	"github.com/clawline/clawline/lib/service"
	"github.com/clawline/clawline/lib/version"
)

func main() {
	root := &cli.Command{
		Name:    "clawline",
		Summary: "operator CLI for the clawline daemon",
		Description: "Clawline manages a running clawline daemon: pairing and device\n" +
			"lifecycle, recorded sessions, and the encrypted attachment store.",
		Subcommands: []*cli.Command{
			device.Command(),
			session.Command(),
			media.Command(),
			targetcmd.Command(),
			statusCommand(),
			versionCommand(),
		},
	}

	if err := root.Execute(os.Args[1:]); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(exitErr.ExitCode())
		}
		process.Fatal(err)
	}
}

type statusResult struct {
	Devices         int `cbor:"devices"`
	Connections     int `cbor:"connections"`
	PendingPairings int `cbor:"pending_pairings"`
}

func statusCommand() *cli.Command {
	var socket string
	return &cli.Command{
		Name:    "status",
		Summary: "show daemon status",
		Usage:   "clawline status [--socket <path>]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.StringVar(&socket, "socket", "", "admin socket path (default: from configuration)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("status takes no arguments")
			}
			if socket == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				socket = cfg.AdminSocket
			}

			var result statusResult
			client := service.NewClient(socket)
			if err := client.Call(context.Background(), "status", nil, &result); err != nil {
				return err
			}
			fmt.Printf("devices: %d\nconnections: %d\npending pairings: %d\n",
				result.Devices, result.Connections, result.PendingPairings)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "print version information",
		Run: func(args []string) error {
			version.Print("clawline")
			return nil
		},
	}
}
