package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/services"
)

const monitorPoll = time.Second

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Start, stop and inspect real-time monitors (falco, fail2ban)",
	}

	start := &cobra.Command{
		Use:     "start <service>",
		Short:   "Start a monitor in the foreground or detached",
		Example: "yoroguard monitor start falco --duration 10m\nyoroguard monitor start fail2ban --detach",
		Args:    cobra.ExactArgs(1),
		RunE:    runMonitorStart,
	}
	start.Flags().Duration("duration", 0, "Stop the monitor after this long (0 runs until stopped)")
	start.Flags().Bool("detach", false, "Run in the background and return immediately")

	stop := &cobra.Command{
		Use:   "stop <service>",
		Short: "Stop a running monitor",
		Args:  cobra.ExactArgs(1),
		RunE:  runMonitorStop,
	}

	evts := &cobra.Command{
		Use:   "events <service>",
		Short: "Print a monitor's most recent events, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runMonitorEvents,
	}
	evts.Flags().Int("limit", 20, "Maximum number of events")

	list := &cobra.Command{
		Use:   "list",
		Short: "List supervised processes",
		Args:  cobra.NoArgs,
		RunE:  runMonitorList,
	}

	cmd.AddCommand(start, stop, evts, list)
	return cmd
}

func lookupMonitor(a *app, name string) (services.Monitor, error) {
	ad, err := a.reg.Get(name)
	if err != nil {
		return nil, err
	}
	m, ok := ad.(services.Monitor)
	if !ok {
		return nil, fmt.Errorf("%s has no real-time monitor", ad.Name())
	}
	return m, nil
}

func runMonitorStart(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	m, err := lookupMonitor(a, args[0])
	if err != nil {
		return err
	}
	d, _ := cmd.Flags().GetDuration("duration")
	detach, _ := cmd.Flags().GetBool("detach")
	ctx := cmd.Context()

	if detach {
		if !m.StartDetached(ctx, d) {
			return fmt.Errorf("failed to start %s monitor", m.Name())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ %s monitor running in the background\n", m.DisplayName())
		return nil
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	unsubscribe := a.bus.Subscribe(func(e schema.Event) {
		if e.Service == m.Name() {
			_ = enc.Encode(e)
		}
	})
	defer unsubscribe()

	if !m.StartMonitoring(ctx, d) {
		return fmt.Errorf("failed to start %s monitor", m.Name())
	}
	defer m.StopMonitoring()

	ticker := time.NewTicker(monitorPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !m.IsMonitoring() {
				a.logger.Infow("Monitor exited", "service", m.Name())
				return nil
			}
		}
	}
}

func runMonitorStop(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	m, err := lookupMonitor(a, args[0])
	if err != nil {
		return err
	}
	if !m.StopMonitoring() {
		return fmt.Errorf("failed to stop %s monitor", m.Name())
	}
	fmt.Fprintf(cmd.OutOrStdout(), "🛑 %s monitor stopped\n", m.DisplayName())
	return nil
}

func runMonitorEvents(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	m, err := lookupMonitor(a, args[0])
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, e := range m.GetRecentEvents(limit) {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func runMonitorList(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	procs := a.sup.List()
	if len(procs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No supervised processes")
		return nil
	}
	for _, p := range procs {
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s pid=%-7d mode=%-9s running=%-3s started=%s\n",
			p.Name, p.PID, p.Mode, yesNo(p.Running), p.StartedAt.Format(time.RFC3339))
	}
	return nil
}
