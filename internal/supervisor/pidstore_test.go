package supervisor

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDStoreRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewPIDStore(fs, "/var/lib/yoroguard")

	started := time.Date(2025, 6, 16, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(Handle{Name: "falco", PID: 4242, Command: "falco -o json_output=true", StartedAt: started, Mode: ModeStreaming}))
	require.NoError(t, store.Save(Handle{Name: "clamd watch", PID: 17, Command: "clamd", StartedAt: started, Mode: ModeDetached}))

	h, err := store.Load("falco")
	require.NoError(t, err)
	assert.Equal(t, 4242, h.PID)
	assert.Equal(t, "falco -o json_output=true", h.Command)
	assert.True(t, started.Equal(h.StartedAt))

	exists, err := afero.Exists(fs, "/var/lib/yoroguard/clamd_watch.pid.json")
	require.NoError(t, err)
	assert.True(t, exists)

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "clamd watch", list[0].Name)
	assert.Equal(t, "falco", list[1].Name)

	found, ok := store.FindByPID(17)
	require.True(t, ok)
	assert.Equal(t, "clamd watch", found.Name)
	_, ok = store.FindByPID(99)
	assert.False(t, ok)
}

func TestPIDStoreMissingRecord(t *testing.T) {
	store := NewPIDStore(afero.NewMemMapFs(), "/state")

	_, err := store.Load("nope")
	assert.ErrorIs(t, err, ErrNoRecord)
	assert.NoError(t, store.Remove("nope"))

	list, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPIDStoreSkipsGarbage(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewPIDStore(fs, "/state")
	require.NoError(t, afero.WriteFile(fs, "/state/bad.pid.json", []byte("{not json"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/state/notes.txt", []byte("hello"), 0o644))
	require.NoError(t, store.Save(Handle{Name: "ok", PID: 5}))

	list, err := store.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ok", list[0].Name)

	_, err = store.Load("bad")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRecord)
}
