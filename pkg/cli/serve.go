package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, audit, event and metrics endpoints over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()
			return server.New(a.reg, a.bus, a.metrics, a.logger).Run(cmd.Context(), a.cfg.ListenAddr)
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:9477", "Listen address")
	_ = viper.BindPFlag("serve.addr", cmd.Flags().Lookup("addr"))
	return cmd
}
