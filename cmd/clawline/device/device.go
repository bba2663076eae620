// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/clawline/clawline/cmd/clawline/cli"
	"github.com/clawline/clawline/lib/config"
	"github.com/clawline/clawline/lib/service"
)

// Command returns the "device" command group: pairing review and
// device lifecycle against the daemon's admin socket, plus offline
// credential export and import against the registry file.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "device",
		Summary: "manage paired devices and pending pairing requests",
		Description: "Manage the device registry: review and resolve pending pairing\n" +
			"requests, list and revoke enrolled devices, and move device\n" +
			"credentials between hosts as sealed bundles.",
		Subcommands: []*cli.Command{
			listCommand(),
			approveCommand(),
			denyCommand(),
			revokeCommand(),
			reviewCommand(),
			exportCommand(),
			importCommand(),
		},
	}
}

// Mirror structs for the daemon's admin action results. Field tags
// must match the daemon's encoding exactly.

type pairingSummary struct {
	RequestID  string `cbor:"request_id"`
	UserID     string `cbor:"user_id"`
	DeviceName string `cbor:"device_name"`
	Code       string `cbor:"code"`
	CreatedAt  string `cbor:"created_at"`
}

type pairingListResult struct {
	Pairings []pairingSummary `cbor:"pairings"`
}

type approveResult struct {
	DeviceID   string `cbor:"device_id"`
	UserID     string `cbor:"user_id"`
	DeviceName string `cbor:"device_name"`
	Token      string `cbor:"token"`
}

type deviceSummary struct {
	ID         string `cbor:"id"`
	UserID     string `cbor:"user_id"`
	Name       string `cbor:"name"`
	CreatedAt  string `cbor:"created_at"`
	LastSeenAt string `cbor:"last_seen_at,omitempty"`
	Revoked    bool   `cbor:"revoked"`
	Connected  bool   `cbor:"connected"`
}

type deviceListResult struct {
	Devices []deviceSummary `cbor:"devices"`
}

// socketFlags is the flag set shared by every admin-socket command.
type socketFlags struct {
	socket string
}

func (f *socketFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.socket, "socket", "", "admin socket path (default: from configuration)")
}

// client resolves the socket path (flag, then configuration) and
// returns an admin client for it.
func (f *socketFlags) client() (*service.Client, error) {
	path := f.socket
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		path = cfg.AdminSocket
	}
	if path == "" {
		return nil, errors.New("no admin socket configured (set --socket or adminSocket in clawline.yaml)")
	}
	return service.NewClient(path), nil
}

func listCommand() *cli.Command {
	flags := &socketFlags{}
	return &cli.Command{
		Name:    "list",
		Summary: "list enrolled devices",
		Usage:   "clawline device list [--socket <path>]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("device list takes no arguments")
			}
			client, err := flags.client()
			if err != nil {
				return err
			}

			var result deviceListResult
			if err := client.Call(context.Background(), "device-list", nil, &result); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tUSER\tNAME\tCREATED\tLAST SEEN\tSTATE")
			for _, device := range result.Devices {
				lastSeen := device.LastSeenAt
				if lastSeen == "" {
					lastSeen = "-"
				}
				state := "active"
				switch {
				case device.Revoked:
					state = "revoked"
				case device.Connected:
					state = "connected"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					device.ID, device.UserID, device.Name, device.CreatedAt, lastSeen, state)
			}
			return tw.Flush()
		},
	}
}

func approveCommand() *cli.Command {
	flags := &socketFlags{}
	return &cli.Command{
		Name:    "approve",
		Summary: "approve a pending pairing request",
		Usage:   "clawline device approve <request-id> [--socket <path>]",
		Description: "Approve a pending pairing request. The device token is printed\n" +
			"exactly once; the daemon keeps only its hash.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("approve", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: clawline device approve <request-id>")
			}
			client, err := flags.client()
			if err != nil {
				return err
			}

			var result approveResult
			err = client.Call(context.Background(), "pairing-approve",
				map[string]any{"request_id": args[0]}, &result)
			if err != nil {
				return err
			}

			fmt.Printf("approved: device %s for %s (%s)\n", result.DeviceID, result.UserID, result.DeviceName)
			fmt.Printf("token (shown once): %s\n", result.Token)
			return nil
		},
	}
}

func denyCommand() *cli.Command {
	flags := &socketFlags{}
	var reason string
	return &cli.Command{
		Name:    "deny",
		Summary: "deny a pending pairing request",
		Usage:   "clawline device deny <request-id> [--reason <text>] [--socket <path>]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("deny", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&reason, "reason", "", "reason reported to the requesting device")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: clawline device deny <request-id>")
			}
			client, err := flags.client()
			if err != nil {
				return err
			}

			err = client.Call(context.Background(), "pairing-deny",
				map[string]any{"request_id": args[0], "reason": reason}, nil)
			if err != nil {
				return err
			}
			fmt.Printf("denied: %s\n", args[0])
			return nil
		},
	}
}

func revokeCommand() *cli.Command {
	flags := &socketFlags{}
	return &cli.Command{
		Name:    "revoke",
		Summary: "revoke an enrolled device's credentials",
		Usage:   "clawline device revoke <device-id> [--socket <path>]",
		Description: "Revoke a device. Its token stops authenticating immediately and\n" +
			"any live connection is closed. The registry entry is kept as an\n" +
			"audit record.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("revoke", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: clawline device revoke <device-id>")
			}
			client, err := flags.client()
			if err != nil {
				return err
			}

			err = client.Call(context.Background(), "device-revoke",
				map[string]any{"device_id": args[0]}, nil)
			if err != nil {
				return err
			}
			fmt.Printf("revoked: %s\n", args[0])
			return nil
		},
	}
}
