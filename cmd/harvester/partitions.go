package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPartitionsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "Enumerate partitions and write the descriptor file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			parts, err := a.partitions(cmd.Context(), true)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d partitions -> %s\n", len(parts), a.enumeratedPath())
			return nil
		},
	}
	return cmd
}
