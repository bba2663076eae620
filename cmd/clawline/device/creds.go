// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/clawline/clawline/clawline"
	"github.com/clawline/clawline/cmd/clawline/cli"
	"github.com/clawline/clawline/lib/config"
	"github.com/clawline/clawline/lib/sealed"
	"github.com/clawline/clawline/lib/secret"
)

// registryPath resolves the device registry file from --state-dir or
// the configuration.
func registryPath(stateDir string) (string, error) {
	if stateDir == "" {
		cfg, err := config.Load()
		if err != nil {
			return "", err
		}
		stateDir = cfg.StateDir
	}
	return stateDir + "/devices.json", nil
}

func exportCommand() *cli.Command {
	var (
		stateDir   string
		output     string
		recipients []string
	)
	return &cli.Command{
		Name:    "export-credentials",
		Summary: "export the device registry as a sealed bundle",
		Usage:   "clawline device export-credentials --recipient <age-public-key> [--output <path>]",
		Description: "Export the device registry (including token hashes) encrypted to\n" +
			"one or more age recipients, for moving enrollments to another\n" +
			"host. The bundle never contains plaintext tokens; those exist\n" +
			"only on the devices.",
		Examples: []cli.Example{
			{
				Description: "export to a new host's key",
				Command:     "clawline device export-credentials --recipient age1... --output devices.sealed",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("export-credentials", pflag.ContinueOnError)
			flagSet.StringVar(&stateDir, "state-dir", "", "state directory (default: from configuration)")
			flagSet.StringVar(&output, "output", "", "output file (default: stdout)")
			flagSet.StringArrayVar(&recipients, "recipient", nil, "age public key to encrypt to (repeatable)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("export-credentials takes no arguments")
			}
			if len(recipients) == 0 {
				return fmt.Errorf("at least one --recipient is required")
			}
			for _, recipient := range recipients {
				if err := sealed.ParsePublicKey(recipient); err != nil {
					return fmt.Errorf("invalid recipient %q: %w", recipient, err)
				}
			}

			path, err := registryPath(stateDir)
			if err != nil {
				return err
			}
			registry := clawline.NewRegistry(path)
			devices, err := registry.Load(context.Background())
			if err != nil {
				return fmt.Errorf("loading device registry: %w", err)
			}
			if len(devices) == 0 {
				return fmt.Errorf("device registry at %s is empty", path)
			}

			plaintext, err := json.Marshal(devices)
			if err != nil {
				return fmt.Errorf("encoding device registry: %w", err)
			}
			ciphertext, err := sealed.Encrypt(plaintext, recipients)
			if err != nil {
				return fmt.Errorf("sealing device registry: %w", err)
			}

			if output == "" {
				fmt.Println(ciphertext)
				return nil
			}
			if err := os.WriteFile(output, []byte(ciphertext+"\n"), 0o600); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			fmt.Printf("exported %d devices to %s\n", len(devices), output)
			return nil
		},
	}
}

func importCommand() *cli.Command {
	var (
		stateDir     string
		input        string
		identityFile string
	)
	return &cli.Command{
		Name:    "import-credentials",
		Summary: "import a sealed device registry bundle",
		Usage:   "clawline device import-credentials --input <path> --identity-file <path>",
		Description: "Decrypt a bundle produced by export-credentials and merge its\n" +
			"devices into the local registry. Existing device ids are left\n" +
			"untouched; only new enrollments are added.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("import-credentials", pflag.ContinueOnError)
			flagSet.StringVar(&stateDir, "state-dir", "", "state directory (default: from configuration)")
			flagSet.StringVar(&input, "input", "", "sealed bundle file")
			flagSet.StringVar(&identityFile, "identity-file", "", "age private key file")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("import-credentials takes no arguments")
			}
			if input == "" {
				return fmt.Errorf("--input is required")
			}
			if identityFile == "" {
				return fmt.Errorf("--identity-file is required")
			}

			ciphertext, err := os.ReadFile(input)
			if err != nil {
				return fmt.Errorf("reading bundle: %w", err)
			}
			identity, err := secret.ReadFromPath(identityFile)
			if err != nil {
				return fmt.Errorf("reading identity: %w", err)
			}
			defer identity.Close()

			plaintext, err := sealed.Decrypt(string(ciphertext), identity)
			if err != nil {
				return fmt.Errorf("unsealing bundle: %w", err)
			}
			defer plaintext.Close()

			var imported map[string]*clawline.Device
			if err := json.Unmarshal(plaintext.Bytes(), &imported); err != nil {
				return fmt.Errorf("decoding bundle: %w", err)
			}

			path, err := registryPath(stateDir)
			if err != nil {
				return err
			}
			registry := clawline.NewRegistry(path)

			added := 0
			err = registry.Update(context.Background(), func(devices map[string]*clawline.Device) error {
				for id, device := range imported {
					if _, exists := devices[id]; exists {
						continue
					}
					devices[id] = device
					added++
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("updating device registry: %w", err)
			}
			fmt.Printf("imported %d devices (%d already present)\n", added, len(imported)-added)
			return nil
		},
	}
}
