// Copyright 2026 The Clawline Authors
// SPDX-License-Identifier: Apache-2.0

// Package media implements the "clawline media" command group:
// direct access to the encrypted attachment store (put, get, list)
// and the read-only FUSE browse mount.
package media

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/clawline/clawline/cmd/clawline/cli"
	"github.com/clawline/clawline/lib/config"
	"github.com/clawline/clawline/mediastore"
	mediafuse "github.com/clawline/clawline/mediastore/fuse"
)

// Command returns the "media" command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "media",
		Summary: "work with the encrypted attachment store",
		Subcommands: []*cli.Command{
			putCommand(),
			getCommand(),
			listCommand(),
			mountCommand(),
		},
	}
}

// storeFlags is the flag set shared by every media command.
type storeFlags struct {
	mediaDir string
	keyFile  string
}

func (f *storeFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.mediaDir, "media-dir", "", "attachment store directory (default: from configuration)")
	flagSet.StringVar(&f.keyFile, "key-file", "", "media master key file (default: from configuration)")
}

// open resolves the store location and key, then opens the store. The
// caller must Close the returned store.
func (f *storeFlags) open() (*mediastore.Store, error) {
	mediaDir := f.mediaDir
	keyFile := f.keyFile
	if mediaDir == "" || keyFile == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if mediaDir == "" {
			mediaDir = cfg.Media.Dir
		}
		if keyFile == "" {
			keyFile = cfg.Media.MasterKeyFile
		}
	}
	if keyFile == "" {
		return nil, errors.New("no media master key configured (set --key-file or media.masterKeyFile in clawline.yaml)")
	}

	keys, err := mediastore.KeySetFromFile(keyFile)
	if err != nil {
		return nil, err
	}
	store, err := mediastore.NewStore(mediaDir, keys)
	if err != nil {
		keys.Close()
		return nil, fmt.Errorf("opening media store: %w", err)
	}
	return store, nil
}

func putCommand() *cli.Command {
	flags := &storeFlags{}
	var mimeType string
	return &cli.Command{
		Name:    "put",
		Summary: "store a file and print its ref",
		Usage:   "clawline media put <file> [--mime <type>]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("put", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&mimeType, "mime", "", "MIME type (default: guessed from the file extension)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: clawline media put <file>")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(args[0]))
				if mimeType == "" {
					mimeType = "application/octet-stream"
				}
			}

			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()

			result, err := store.Put(data, mimeType)
			if err != nil {
				return fmt.Errorf("storing %s: %w", args[0], err)
			}
			if result.Duplicate {
				fmt.Printf("%s (already stored)\n", result.Ref)
				return nil
			}
			fmt.Printf("%s (%d bytes, %d stored, %s)\n",
				result.Ref, result.Size, result.StoredSize, result.Compression)
			return nil
		},
	}
}

func getCommand() *cli.Command {
	flags := &storeFlags{}
	var output string
	return &cli.Command{
		Name:    "get",
		Summary: "retrieve a blob by ref",
		Usage:   "clawline media get <ref> [--output <path>]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("get", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&output, "output", "", "output file (default: stdout)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: clawline media get <ref>")
			}
			ref, err := mediastore.ParseRef(args[0])
			if err != nil {
				return err
			}

			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()

			data, _, err := store.Get(ref)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(output, data, 0o600)
		},
	}
}

func listCommand() *cli.Command {
	flags := &storeFlags{}
	return &cli.Command{
		Name:    "list",
		Summary: "list stored blobs",
		Usage:   "clawline media list",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("media list takes no arguments")
			}
			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()

			metas, err := store.List()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "REF\tTYPE\tSIZE\tSTORED\tCOMPRESSION\tCREATED")
			for _, meta := range metas {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
					meta.Ref.Short(), meta.MIMEType, meta.Size, meta.StoredSize,
					meta.Compression, meta.CreatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func mountCommand() *cli.Command {
	flags := &storeFlags{}
	var allowOther bool
	return &cli.Command{
		Name:    "mount",
		Summary: "mount the store as a read-only filesystem",
		Usage:   "clawline media mount <mountpoint> [--allow-other]",
		Description: "Mount a read-only browse filesystem over the attachment store.\n" +
			"recent/ lists the newest blobs by friendly name; cas/ resolves\n" +
			"any blob by full ref. Blocks until unmounted or interrupted.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("mount", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVar(&allowOther, "allow-other", false, "allow other users to access the mount")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: clawline media mount <mountpoint>")
			}
			store, err := flags.open()
			if err != nil {
				return err
			}
			defer store.Close()

			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
			server, err := mediafuse.Mount(mediafuse.Options{
				Mountpoint: args[0],
				Store:      store,
				AllowOther: allowOther,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			interrupted := make(chan os.Signal, 1)
			signal.Notify(interrupted, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-interrupted
				if err := server.Unmount(); err != nil {
					logger.Error("unmount failed", "error", err)
				}
			}()

			server.Wait()
			return nil
		},
	}
}
