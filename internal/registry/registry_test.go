package registry

import (
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/logging"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/services"
)

func testDeps() services.Deps {
	return services.Deps{FS: afero.NewMemMapFs(), Logger: logging.Nop(), StateDir: "/state"}
}

func TestGetUnknownIsNotFound(t *testing.T) {
	r := New()
	_, err := r.Get("nessus")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, r.Has("nessus"))
}

func TestLazySingletonSharedByAlias(t *testing.T) {
	r := New()
	builds := 0
	r.Register("trivy", func(s services.Settings) (services.Adapter, error) {
		builds++
		return services.NewTrivy(s, testDeps()), nil
	}, services.Settings{Enabled: true}, "security.trivy")

	assert.Zero(t, builds)
	a, err := r.Get("trivy")
	require.NoError(t, err)
	b, err := r.Get("security.trivy")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, builds)
	assert.True(t, a.IsEnabled())
	assert.Equal(t, map[string]string{"security.trivy": "trivy"}, r.Aliases())
}

func TestFactoryErrorPropagates(t *testing.T) {
	r := New()
	boom := errors.New("boom")
	r.Register("broken", func(services.Settings) (services.Adapter, error) { return nil, boom }, services.Settings{})

	_, err := r.Get("broken")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, r.All())
}

func TestDefaultRegistry(t *testing.T) {
	r := NewDefault(testDeps(), map[string]services.Settings{
		"ufw": {Enabled: true},
	})
	assert.Equal(t, []string{"clamav", "fail2ban", "falco", "trivy", "ufw"}, r.Names())

	for _, name := range r.Names() {
		assert.True(t, r.Has("security."+name))
	}

	ufw, err := r.Get("security.ufw")
	require.NoError(t, err)
	assert.True(t, ufw.IsEnabled())
	clam, err := r.Get("clamav")
	require.NoError(t, err)
	assert.False(t, clam.IsEnabled())

	names := func(as []services.Adapter) []string {
		var out []string
		for _, a := range as {
			out = append(out, a.Name())
		}
		return out
	}
	assert.Equal(t, []string{"fail2ban", "falco"}, names(r.FilterByCapability(services.CapMonitor)))
	assert.Equal(t, []string{"clamav", "trivy"}, names(r.FilterByCapability(services.CapScanner)))
	assert.Equal(t, []string{"trivy"}, names(r.FilterByCapability(services.CapVulnerabilityScanner)))
	assert.Equal(t, []string{"ufw"}, names(r.FilterByCapability(services.CapFirewall)))
	assert.Equal(t, []string{"fail2ban"}, names(r.FilterByCapability(services.CapIntrusionPrevention)))
	assert.Len(t, r.Capabilities(), 5)
}
