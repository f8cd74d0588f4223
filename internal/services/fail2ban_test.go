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

const f2bServerStatus = "Status\n|- Number of jail:\t2\n`- Jail list:\tsshd, nginx-http-auth\n"

const f2bSSHD = `Status for the jail: sshd
|- Filter
|  |- Currently failed:	2
|  |- Total failed:	15
|  ` + "`" + `- File list:	/var/log/auth.log
` + "`" + `- Actions
   |- Currently banned:	1
   |- Total banned:	3
   ` + "`" + `- Banned IP list:	192.168.1.10
`

const f2bNginx = `Status for the jail: nginx-http-auth
|- Filter
|  |- Currently failed:	0
|  |- Total failed:	0
` + "`" + `- Actions
   |- Currently banned:	0
   |- Total banned:	0
   ` + "`" + `- Banned IP list:
`

func f2bFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/fail2ban/jail.local", []byte("[sshd]\nenabled = true\n"), 0o644))
	return fs
}

func f2bRunner() *fakeRunner {
	return newFakeRunner("fail2ban-client").
		on("fail2ban-client status", execx.Result{Stdout: f2bServerStatus}).
		on("fail2ban-client version", execx.Result{Stdout: "1.0.2\n"}).
		on("fail2ban-client status sshd", execx.Result{Stdout: f2bSSHD}).
		on("fail2ban-client status nginx-http-auth", execx.Result{Stdout: f2bNginx})
}

func TestFail2banAuditReportsBansAndFailures(t *testing.T) {
	f := NewFail2ban(enabled(), testDeps(f2bRunner(), f2bFS(t)))
	res := f.RunAudit(context.Background())

	assert.Equal(t, schema.AuditIssuesFound, res.Status)
	assert.Equal(t, "1.0.2", res.Metadata["version"])
	assert.Equal(t, 1, res.Metadata["banned_ips"])
	require.Len(t, res.Issues, 2)

	ban := res.Issues[0]
	assert.Equal(t, schema.TypeIntrusion, ban.Type)
	assert.Equal(t, schema.SevHigh, ban.Severity)
	assert.Equal(t, "192.168.1.10", ban.Location)
	assert.Equal(t, "sshd", ban.Details["jail"])

	failing := res.Issues[1]
	assert.Equal(t, schema.SevMedium, failing.Severity)
	assert.Contains(t, failing.Description, "2 host(s)")
}

func TestFail2banServerDown(t *testing.T) {
	r := newFakeRunner("fail2ban-client").on("fail2ban-client status", execx.Result{
		Stderr:   "ERROR   Failed to access socket path: /var/run/fail2ban/fail2ban.sock. Is fail2ban running?",
		ExitCode: 255,
	})
	f := NewFail2ban(enabled(), testDeps(r, f2bFS(t)))

	res := f.RunAudit(context.Background())
	assert.Equal(t, schema.AuditIssuesFound, res.Status)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, schema.SevHigh, res.Issues[0].Severity)
	assert.False(t, f.GetStatus(context.Background()).Running)
}

func TestFail2banNotConfigured(t *testing.T) {
	f := NewFail2ban(enabled(), testDeps(f2bRunner(), afero.NewMemMapFs()))
	assert.Equal(t, schema.AuditNotConfigured, f.RunAudit(context.Background()).Status)
	assert.False(t, f.IsConfigured())
}

func TestFail2banBannedIPs(t *testing.T) {
	f := NewFail2ban(enabled(), testDeps(f2bRunner(), f2bFS(t)))
	banned, err := f.BannedIPs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"sshd":            {"192.168.1.10"},
		"nginx-http-auth": {},
	}, banned)
}

func TestFail2banRecentEvents(t *testing.T) {
	fs := f2bFS(t)
	log := "2025-06-16 11:59:58,001 fail2ban.filter [123]: INFO [sshd] Found 192.168.1.10 - 2025-06-16 11:59:58\n" +
		"2025-06-16 12:00:00 fail2ban.server [123]: ERROR Unable to read log\n" +
		"2025-06-16 12:00:01,123 fail2ban.actions [123]: INFO [sshd] Ban 192.168.1.10\n"
	require.NoError(t, afero.WriteFile(fs, "/var/log/fail2ban.log", []byte(log), 0o644))
	f := NewFail2ban(enabled(), testDeps(f2bRunner(), fs))

	evs := f.RecentEvents(context.Background(), 2)
	require.Len(t, evs, 2)

	ban := evs[0]
	assert.Equal(t, schema.SevHigh, ban.Severity)
	assert.Equal(t, "192.168.1.10", ban.Location)
	assert.Equal(t, "ban", ban.Details["action"])
	assert.Equal(t, "sshd", ban.Details["jail"])
	assert.Equal(t, 2025, ban.Timestamp.Year())
	assert.Equal(t, 123000000, ban.Timestamp.Nanosecond())

	assert.Equal(t, schema.SevHigh, evs[1].Severity)
	assert.Equal(t, "Unable to read log", evs[1].Description)
	assert.Empty(t, evs[1].Location)
}
