package codeforge

import (
	"github.com/k0kubun/pp"
	"github.com/mwiater/codeforge/internal/appconfig"
	"github.com/spf13/cobra"
)

func newShowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show resolved settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config()
			appconfig.ShowConfig(cmd.OutOrStdout(), cfg.ConfigPath, *cfg)
			if cfg.Debug {
				pp.Fprintln(cmd.OutOrStdout(), cfg)
			}
			return nil
		},
	})
	return cmd
}
