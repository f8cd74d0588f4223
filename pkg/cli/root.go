package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/config"
)

var (
	Version = "0.1.0"
	rootCmd *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "yoroguard",
		Short: "Host security tool orchestrator",
		Long: "yoroguard drives the host security tools already installed on a machine " +
			"(ClamAV, Fail2ban, Falco, Trivy, UFW): audits their state, runs scans, " +
			"supervises monitors and normalizes their output into one event stream.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path := viper.GetString("config")
			return config.ReadFile(viper.GetViper(), path, cmd.Flags().Changed("config"))
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", config.DefaultConfigFile, "Config file (YAML)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringP("output", "o", "./reports", "Output directory")
	rootCmd.PersistentFlags().String("state-dir", config.DefaultStateDir, "Directory for pid records, progress logs and scratch files")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("state_dir", rootCmd.PersistentFlags().Lookup("state-dir"))

	// Defaults and environment variable support (YOROGUARD_OUTPUT, etc.)
	config.SetDefaults(viper.GetViper())

	// Subcommands
	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newReportCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
