package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/execx"
)

const probeTimeout = 2 * time.Second

// discoverPID locates a detached process after the fact: pidof on the
// binary name, then pgrep against the full command line, then a
// start-time ordered scan of the process table. Best effort only.
func (s *Supervisor) discoverPID(ctx context.Context, argv []string) (int, bool) {
	self := os.Getpid()
	if pid, ok := s.firstPID(ctx, "pidof", "-s", filepath.Base(argv[0])); ok && pid != self {
		return pid, true
	}
	cmdline := strings.Join(argv, " ")
	if pid, ok := s.firstPID(ctx, "pgrep", "-n", "-f", regexp.QuoteMeta(cmdline)); ok && pid != self {
		return pid, true
	}
	return s.table.Newest(cmdline, self)
}

func (s *Supervisor) firstPID(ctx context.Context, name string, args ...string) (int, bool) {
	if _, err := s.runner.LookPath(name); err != nil {
		return 0, false
	}
	res, err := s.runner.Run(ctx, name, args, execx.Options{Timeout: probeTimeout})
	if err != nil || res.ExitCode != 0 {
		return 0, false
	}
	for _, f := range strings.Fields(res.Stdout) {
		if pid, err := strconv.Atoi(f); err == nil && pid > 0 {
			return pid, true
		}
	}
	return 0, false
}
