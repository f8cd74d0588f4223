package services

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/execx"
	"github.com/yorozuya-cybersecurity/yoroguard/internal/schema"
)

const ufwVerbose = `Status: active
Logging: on (low)
Default: allow (incoming), allow (outgoing), disabled (routed)
New profiles: skip

To                         Action      From
--                         ------      ----
22/tcp                     ALLOW IN    Anywhere
80/tcp                     ALLOW IN    Anywhere
5432/tcp                   ALLOW IN    10.0.0.0/8
22/tcp (v6)                ALLOW IN    Anywhere (v6)
`

func ufwFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/ufw/ufw.conf", []byte("ENABLED=yes\n"), 0o644))
	return fs
}

func TestUFWAuditFlagsPolicyAndExposedPorts(t *testing.T) {
	r := newFakeRunner("ufw").on("ufw status verbose", execx.Result{Stdout: ufwVerbose})
	res := NewUFW(enabled(), testDeps(r, ufwFS(t))).RunAudit(context.Background())

	assert.Equal(t, schema.AuditIssuesFound, res.Status)
	require.Len(t, res.Issues, 3)
	assert.Equal(t, schema.SevHigh, res.Issues[0].Severity)
	assert.Equal(t, "default incoming policy is allow", res.Issues[0].Description)
	assert.Equal(t, "ssh port 22 is open to anywhere", res.Issues[1].Description)
	assert.Equal(t, schema.SevMedium, res.Issues[1].Severity)
	assert.Equal(t, true, res.Issues[2].Details["ipv6"])
	assert.Equal(t, 4, res.Metadata["rules"])
}

func TestUFWInactiveIsCritical(t *testing.T) {
	r := newFakeRunner("ufw").on("ufw status verbose", execx.Result{Stdout: "Status: inactive\n"})
	u := NewUFW(enabled(), testDeps(r, ufwFS(t)))

	res := u.RunAudit(context.Background())
	require.Len(t, res.Issues, 1)
	assert.Equal(t, schema.SevCritical, res.Issues[0].Severity)
	assert.Equal(t, schema.TypeFirewall, res.Issues[0].Type)
	assert.False(t, u.IsHealthy())
}

func TestUFWUnreadableStatusIsAnIssue(t *testing.T) {
	r := newFakeRunner("ufw").on("ufw status verbose", execx.Result{Stderr: "ERROR: You need to be root to run this script\n", ExitCode: 1})
	res := NewUFW(enabled(), testDeps(r, ufwFS(t))).RunAudit(context.Background())
	assert.Equal(t, schema.AuditIssuesFound, res.Status)
	require.Len(t, res.Issues, 1)
	assert.Contains(t, res.Issues[0].Description, "You need to be root")
}

func TestUFWSecure(t *testing.T) {
	out := "Status: active\nDefault: deny (incoming), allow (outgoing), disabled (routed)\n\nTo                         Action      From\n--                         ------      ----\n443/tcp                    ALLOW IN    Anywhere\n"
	r := newFakeRunner("ufw").on("ufw status verbose", execx.Result{Stdout: out})
	u := NewUFW(enabled(), testDeps(r, ufwFS(t)))
	assert.Equal(t, schema.AuditSecure, u.RunAudit(context.Background()).Status)
	assert.True(t, u.IsHealthy())
}

func TestUFWRecentEvents(t *testing.T) {
	fs := ufwFS(t)
	log := "Jun 16 12:00:01 web01 kernel: [8123.456789] [UFW BLOCK] IN=eth0 OUT= MAC=aa SRC=203.0.113.9 DST=10.0.0.2 LEN=60 PROTO=TCP SPT=51515 DPT=22 WINDOW=64240\n" +
		"Jun 16 12:00:02 web01 kernel: [8124.000001] [UFW ALLOW] IN= OUT=eth0 SRC=10.0.0.2 DST=1.1.1.1 PROTO=UDP SPT=5353 DPT=53\n" +
		"unrelated line\n"
	require.NoError(t, afero.WriteFile(fs, "/var/log/ufw.log", []byte(log), 0o644))
	u := NewUFW(enabled(), testDeps(newFakeRunner("ufw"), fs))

	evs := u.RecentEvents(context.Background(), 0)
	require.Len(t, evs, 2)
	assert.Equal(t, schema.SevInfo, evs[0].Severity)
	block := evs[1]
	assert.Equal(t, schema.SevMedium, block.Severity)
	assert.Equal(t, "203.0.113.9", block.Location)
	assert.Equal(t, "UFW BLOCK TCP 203.0.113.9:51515 -> 10.0.0.2:22", block.Description)
	assert.Equal(t, "22", block.Details["dst_port"])

	assert.Len(t, u.RecentEvents(context.Background(), 1), 1)
}
