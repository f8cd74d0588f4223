package supervisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/yorozuya-cybersecurity/yoroguard/pkg/utils"
)

// ErrNoRecord means no PID side-file exists for a name.
var ErrNoRecord = errors.New("no pid record")

const pidSuffix = ".pid.json"

// Handle identifies a managed process across separate invocations.
type Handle struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
	Mode      string    `json:"mode"`
}

// PIDStore keeps one small JSON side-file per process name. It is read,
// checked and written without a cross-process lock.
type PIDStore struct {
	fs  afero.Fs
	dir string
}

func NewPIDStore(fs afero.Fs, dir string) *PIDStore {
	return &PIDStore{fs: fs, dir: dir}
}

// Path returns the side-file location for name.
func (s *PIDStore) Path(name string) string {
	return filepath.Join(s.dir, utils.SafeName(name)+pidSuffix)
}

func (s *PIDStore) Save(h Handle) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal pid record: %w", err)
	}
	tmp := s.Path(h.Name) + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write pid record: %w", err)
	}
	if err := s.fs.Rename(tmp, s.Path(h.Name)); err != nil {
		return fmt.Errorf("commit pid record: %w", err)
	}
	return nil
}

func (s *PIDStore) Load(name string) (Handle, error) {
	var h Handle
	data, err := afero.ReadFile(s.fs, s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return h, fmt.Errorf("%s: %w", name, ErrNoRecord)
	}
	if err != nil {
		return h, fmt.Errorf("read pid record: %w", err)
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("parse pid record %s: %w", name, err)
	}
	return h, nil
}

// Remove deletes the side-file; a missing file is not an error.
func (s *PIDStore) Remove(name string) error {
	err := s.fs.Remove(s.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid record: %w", err)
	}
	return nil
}

// List returns every readable record, sorted by name.
func (s *PIDStore) List() ([]Handle, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list pid dir: %w", err)
	}
	var handles []Handle
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), pidSuffix) {
			continue
		}
		data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		var h Handle
		if json.Unmarshal(data, &h) == nil && h.PID > 0 {
			handles = append(handles, h)
		}
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].Name < handles[j].Name })
	return handles, nil
}

// FindByPID returns the record owning pid, if any.
func (s *PIDStore) FindByPID(pid int) (Handle, bool) {
	handles, _ := s.List()
	for _, h := range handles {
		if h.PID == pid {
			return h, true
		}
	}
	return Handle{}, false
}
