package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/services"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <target>",
		Short: "Run an on-demand malware or vulnerability scan",
		Example: "yoroguard scan /srv/uploads\n" +
			"yoroguard scan --with trivy /opt/app\n" +
			"yoroguard scan --with trivy --image nginx:1.25",
		Args: cobra.ExactArgs(1),
		RunE: runScan,
	}
	cmd.Flags().String("with", services.ClamAVName, "Scanner service to use (clamav, trivy)")
	cmd.Flags().Bool("image", false, "Treat the target as a container image reference (trivy only)")
	cmd.Flags().Bool("json", false, "Print the scan result as JSON")
	_ = viper.BindPFlag("scan.with", cmd.Flags().Lookup("with"))
	_ = viper.BindPFlag("scan.image", cmd.Flags().Lookup("image"))
	_ = viper.BindPFlag("scan.json", cmd.Flags().Lookup("json"))
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	target := args[0]
	ad, err := a.reg.Get(viper.GetString("scan.with"))
	if err != nil {
		return err
	}
	scanner, ok := ad.(services.Scanner)
	if !ok {
		return fmt.Errorf("%s cannot run scans", ad.Name())
	}
	if !scanner.IsEnabled() {
		return fmt.Errorf("%s is disabled in configuration", ad.Name())
	}
	if !scanner.IsInstalled() {
		return fmt.Errorf("%s is not installed", ad.Name())
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "🚀 Running %s scan of %s\n", ad.DisplayName(), target)

	var res services.ScanResult
	if viper.GetBool("scan.image") {
		vs, ok := scanner.(services.VulnerabilityScanner)
		if !ok {
			return errors.New("--image requires a vulnerability scanner such as trivy")
		}
		res, err = vs.ScanImage(cmd.Context(), target)
	} else {
		res, err = scanner.ScanPath(cmd.Context(), target)
	}
	if err != nil {
		return err
	}

	if viper.GetBool("scan.json") {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	out := cmd.OutOrStdout()
	for _, e := range res.Events {
		fmt.Fprintf(out, "[%s] %s", strings.ToUpper(string(e.Severity)), e.Description)
		if e.Location != "" {
			fmt.Fprintf(out, " (%s)", e.Location)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "✅ Scan %s complete in %s: %d finding(s)\n", res.ScanID, res.Duration.Round(time.Millisecond), len(res.Events))
	return nil
}
