package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncagent/engine/internal/config"
	"github.com/syncagent/engine/internal/credstore"
)

// newKeyCmd groups the data-key lifecycle commands (spec §4.3): create,
// export, import. All three operate on <config>/keyfile.json and never
// print the data key itself except for export, which is the one command
// whose whole purpose is to reveal it for transfer to another machine.
func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the data key that encrypts every synced file",
		Annotations: map[string]string{
			skipConfigAnnotation: "true",
		},
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyExportCmd())
	cmd.AddCommand(newKeyImportCmd())

	return cmd
}

func newKeyCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Generate a new data key, wrapped under a password",
		RunE: func(_ *cobra.Command, _ []string) error {
			store := credstore.New(config.DefaultKeyFilePath(), credstore.NoopVault{})

			password, err := promptPasswordConfirm("Password to protect the new data key: ")
			if err != nil {
				return err
			}

			if _, err := store.Create(password); err != nil {
				return fmt.Errorf("creating data key: %w", err)
			}

			statusf(flagQuiet, "Data key created at %s\n", config.DefaultKeyFilePath())

			return nil
		},
	}
}

func newKeyExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the data key as base64, for moving to another machine",
		RunE: func(_ *cobra.Command, _ []string) error {
			store := credstore.New(config.DefaultKeyFilePath(), credstore.NoopVault{})

			password, err := promptPassword("Password: ")
			if err != nil {
				return err
			}

			exported, err := store.Export(password)
			if err != nil {
				return fmt.Errorf("exporting data key: %w", err)
			}

			fmt.Println(exported)

			return nil
		},
	}
}

func newKeyImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <exported-key-base64>",
		Short: "Replace the local data key with one exported from another machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store := credstore.New(config.DefaultKeyFilePath(), credstore.NoopVault{})

			password, err := promptPasswordConfirm("Password to protect the imported data key: ")
			if err != nil {
				return err
			}

			if _, err := store.Import(password, args[0]); err != nil {
				return fmt.Errorf("importing data key: %w", err)
			}

			statusf(flagQuiet, "Data key imported to %s\n", config.DefaultKeyFilePath())

			return nil
		},
	}
}
