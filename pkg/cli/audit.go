package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/health"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/services"
	"github.com/yorozuya-cybersecurity/yoroguard/pkg/utils"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "audit [service...]",
		Short:   "Audit the configuration and state of the installed security tools",
		Example: "yoroguard audit\nyoroguard audit ufw fail2ban --json",
		RunE:    runAudit,
	}
	cmd.Flags().Bool("json", false, "Print results as JSON instead of a summary")
	cmd.Flags().Bool("no-save", false, "Do not write results.json under --output")
	_ = viper.BindPFlag("audit.json", cmd.Flags().Lookup("json"))
	_ = viper.BindPFlag("audit.no_save", cmd.Flags().Lookup("no-save"))
	return cmd
}

func runAudit(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	adapters, err := selectAdapters(a, args)
	if err != nil {
		return err
	}

	results := health.AuditAll(cmd.Context(), adapters, a.logger)
	run := utils.AuditRun{
		Host:      hostname(),
		ScanID:    uuid.NewString(),
		Timestamp: time.Now(),
		Results:   results,
	}

	if viper.GetBool("audit.json") {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	out := cmd.OutOrStdout()
	for _, res := range results {
		fmt.Fprintf(out, "%s %-16s %s\n", statusMark(res.Status), res.DisplayName, res.Status)
		for _, issue := range res.Issues {
			fmt.Fprintf(out, "     [%s] %s\n", strings.ToUpper(string(issue.Severity)), issue.Description)
		}
	}
	totals := health.Totals(results)
	fmt.Fprintf(out, "\nIssues: %d critical, %d high, %d medium, %d low, %d info\n",
		totals[schema.SevCritical], totals[schema.SevHigh], totals[schema.SevMedium],
		totals[schema.SevLow], totals[schema.SevInfo])

	if !viper.GetBool("audit.no_save") {
		file, err := utils.SaveResult(run, viper.GetString("output"))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "✅ Results saved to %s\n", file)
	}
	return nil
}

// selectAdapters resolves names (or every registered adapter when none are
// given) through the registry.
func selectAdapters(a *app, names []string) ([]services.Adapter, error) {
	if len(names) == 0 {
		return a.reg.All(), nil
	}
	out := make([]services.Adapter, 0, len(names))
	for _, name := range names {
		ad, err := a.reg.Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, ad)
	}
	return out, nil
}

func statusMark(s schema.AuditStatus) string {
	switch s {
	case schema.AuditSecure:
		return " ✅ "
	case schema.AuditIssuesFound:
		return " ⚠️ "
	case schema.AuditDisabled:
		return " ⏸️ "
	default:
		return " ❌ "
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}
