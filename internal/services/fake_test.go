package services

import (
	"context"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/execx"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/logging"
)

var fixedNow = time.Date(2025, 6, 20, 9, 0, 0, 0, time.UTC)

// fakeRunner answers commands from a table keyed by "name arg1 arg2".
type fakeRunner struct {
	mu      sync.Mutex
	bins    map[string]bool
	results map[string]execx.Result
	hook    func(name string, args []string) (execx.Result, bool)
	calls   []string
}

func newFakeRunner(bins ...string) *fakeRunner {
	r := &fakeRunner{bins: map[string]bool{}, results: map[string]execx.Result{}}
	for _, b := range bins {
		r.bins[b] = true
	}
	return r
}

func (r *fakeRunner) on(cmd string, res execx.Result) *fakeRunner {
	r.results[cmd] = res
	return r
}

func (r *fakeRunner) LookPath(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bins[name] {
		return "/usr/bin/" + name, nil
	}
	return "", exec.ErrNotFound
}

func (r *fakeRunner) Run(_ context.Context, name string, args []string, _ execx.Options) (execx.Result, error) {
	r.mu.Lock()
	key := strings.TrimSpace(name + " " + strings.Join(args, " "))
	r.calls = append(r.calls, key)
	hook := r.hook
	res, ok := r.results[key]
	r.mu.Unlock()
	if hook != nil {
		if hres, handled := hook(name, args); handled {
			return hres, nil
		}
	}
	if !ok {
		return execx.Result{ExitCode: 1}, nil
	}
	return res, nil
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func testDeps(r *fakeRunner, fs afero.Fs) Deps {
	return Deps{
		Runner:   r,
		FS:       fs,
		Logger:   logging.Nop(),
		StateDir: "/var/lib/yoroguard",
		Now:      func() time.Time { return fixedNow },
	}
}

func enabled() Settings { return Settings{Enabled: true} }
