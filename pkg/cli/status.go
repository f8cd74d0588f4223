package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/health"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [service...]",
		Short: "Show installed/configured/running state of each tool",
		RunE:  runStatus,
	}
	cmd.Flags().Bool("json", false, "Print status as JSON")
	_ = viper.BindPFlag("status.json", cmd.Flags().Lookup("json"))
	return cmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	adapters, err := selectAdapters(a, args)
	if err != nil {
		return err
	}
	sum := health.Summarize(cmd.Context(), adapters)

	if viper.GetBool("status.json") {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tENABLED\tINSTALLED\tCONFIGURED\tRUNNING\tHEALTHY\tMESSAGE")
	for _, s := range sum.Services {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Name, yesNo(s.Status.Enabled), yesNo(s.Status.Installed), yesNo(s.Status.Configured),
			yesNo(s.Status.Running), healthLabel(s), s.Status.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d/%d enabled services healthy\n", sum.Healthy, sum.Enabled)

	if procs := a.sup.List(); len(procs) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nSupervised processes:")
		for _, p := range procs {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-24s pid=%-7d mode=%-9s running=%s\n", p.Name, p.PID, p.Mode, yesNo(p.Running))
		}
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func healthLabel(s health.ServiceHealth) string {
	if !s.Applicable {
		return "n/a"
	}
	return yesNo(s.Healthy)
}
