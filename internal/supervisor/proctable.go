package supervisor

import (
	"sort"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessTable answers existence and lookup questions about OS processes.
type ProcessTable interface {
	Exists(pid int) bool
	// Newest returns the most recently started process whose command line
	// contains pattern, excluding the pids in skip.
	Newest(pattern string, skip ...int) (int, bool)
}

type psTable struct{}

// NewProcessTable returns the gopsutil-backed table.
func NewProcessTable() ProcessTable { return psTable{} }

func (psTable) Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid))
	if err != nil || !ok {
		return false
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	status, err := p.Status()
	if err != nil {
		return true
	}
	for _, s := range status {
		if s == process.Zombie {
			return false
		}
	}
	return true
}

func (psTable) Newest(pattern string, skip ...int) (int, bool) {
	procs, err := process.Processes()
	if err != nil {
		return 0, false
	}
	type candidate struct {
		pid     int
		created int64
	}
	var found []candidate
	for _, p := range procs {
		if containsPID(skip, int(p.Pid)) {
			continue
		}
		cmdline, err := p.Cmdline()
		if err != nil || !strings.Contains(cmdline, pattern) {
			continue
		}
		created, _ := p.CreateTime()
		found = append(found, candidate{int(p.Pid), created})
	}
	if len(found) == 0 {
		return 0, false
	}
	sort.Slice(found, func(i, j int) bool { return found[i].created > found[j].created })
	return found[0].pid, true
}

func containsPID(pids []int, pid int) bool {
	for _, p := range pids {
		if p == pid {
			return true
		}
	}
	return false
}
