package nagioscfg

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/livestatus/livestatustest"
	"github.com/tinytelemetry/vigil/internal/model"
)

const sampleConfig = `# Nagios main config
log_file=/var/log/nagios/nagios.log
  cfg_dir = /etc/nagios/conf.d

; old style comment
not a directive
broker_module=/usr/lib/nagios/ndomod.o config_file=/etc/nagios/ndomod.cfg
broker_module=/usr/lib/check_mk/livestatus.o /var/spool/nagios/cmd/livestatus debug=1
broker_module=/opt/other/livestatus.o /tmp/other
`

func TestParseMainConfig(t *testing.T) {
	entries, err := ParseMainConfig(strings.NewReader(sampleConfig))
	require.NoError(t, err)
	require.Len(t, entries, 5)

	assert.Equal(t, model.ConfigEntry{Key: "cfg_dir", Value: "/etc/nagios/conf.d", Line: 3}, entries[1])
	assert.Equal(t, "broker_module", entries[2].Key)
	assert.Equal(t, 7, entries[2].Line)
}

func TestFindLivestatusFirstMatch(t *testing.T) {
	entries, err := ParseMainConfig(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	entry, ok := FindLivestatus(entries)
	require.True(t, ok)
	assert.Equal(t, 8, entry.Line)

	socket, err := LivestatusSocket(entries)
	require.NoError(t, err)
	assert.Equal(t, "/var/spool/nagios/cmd/livestatus", socket)
}

func existing(paths ...string) StatFunc {
	set := make(map[string]bool)
	for _, p := range paths {
		set[p] = true
	}
	return func(path string) (os.FileInfo, error) {
		if set[path] {
			return nil, nil
		}
		return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
	}
}

func entries(lines ...string) []model.ConfigEntry {
	out, _ := ParseMainConfig(strings.NewReader(strings.Join(lines, "\n")))
	return out
}

func TestValidateEntriesReasons(t *testing.T) {
	cases := []struct {
		name   string
		lines  []string
		stat   StatFunc
		reason apperr.Reason
	}{
		{
			name:   "no broker module",
			lines:  []string{"log_file=/var/log/nagios.log"},
			stat:   existing(),
			reason: apperr.ReasonMissingDirective,
		},
		{
			name:   "broker module without livestatus",
			lines:  []string{"broker_module=/usr/lib/ndomod.o config_file=/etc/ndomod.cfg"},
			stat:   existing("/usr/lib/ndomod.o"),
			reason: apperr.ReasonMissingDirective,
		},
		{
			name:   "single token",
			lines:  []string{"broker_module=/usr/lib/livestatus.o"},
			stat:   existing("/usr/lib/livestatus.o"),
			reason: apperr.ReasonMalformedDirective,
		},
		{
			name:   "module missing",
			lines:  []string{"broker_module=/usr/lib/livestatus.o /var/live"},
			stat:   existing("/var/live"),
			reason: apperr.ReasonMissingModuleFile,
		},
		{
			name:   "socket missing",
			lines:  []string{"broker_module=/usr/lib/livestatus.o /var/live"},
			stat:   existing("/usr/lib/livestatus.o"),
			reason: apperr.ReasonMissingSocketFile,
		},
		{
			name: "first match wins over a good later line",
			lines: []string{
				"broker_module=/broken/livestatus.o",
				"broker_module=/usr/lib/livestatus.o /var/live",
			},
			stat:   existing("/usr/lib/livestatus.o", "/var/live"),
			reason: apperr.ReasonMalformedDirective,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEntries(entries(tc.lines...), tc.stat)
			require.Error(t, err)
			assert.True(t, apperr.IsCode(err, apperr.CodeConfig))
			assert.Equal(t, tc.reason, apperr.ReasonOf(err))
		})
	}
}

func TestValidateEntriesOK(t *testing.T) {
	err := ValidateEntries(entries("broker_module=/usr/lib/livestatus.o /var/live debug=1"),
		existing("/usr/lib/livestatus.o", "/var/live"))
	assert.NoError(t, err)
}

func TestMissingSocketHintsDaemonNotRunning(t *testing.T) {
	err := ValidateEntries(entries("broker_module=/usr/lib/livestatus.o /var/live"), existing("/usr/lib/livestatus.o"))
	assert.Contains(t, err.Error(), "make sure nagios is running")
}

func TestStatErrorOtherThanNotExistCountsAsPresent(t *testing.T) {
	denied := func(path string) (os.FileInfo, error) {
		return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrPermission}
	}
	assert.NoError(t, ValidateEntries(entries("broker_module=/a/livestatus.o /b/live"), denied))
}

func TestValidateAgainstFakeInstall(t *testing.T) {
	env := livestatustest.NewEnvironment(t)
	require.NoError(t, Validate(env.ConfigPath))

	hc := Check(env.ConfigPath)
	assert.Equal(t, model.HealthPass, hc.Status)

	require.NoError(t, os.Remove(env.ModulePath))
	err := Validate(env.ConfigPath)
	assert.Equal(t, apperr.ReasonMissingModuleFile, apperr.ReasonOf(err))

	hc = Check(env.ConfigPath)
	assert.Equal(t, model.HealthFail, hc.Status)
	assert.Equal(t, string(apperr.ReasonMissingModuleFile), hc.Reason)
	assert.NotEmpty(t, hc.Suggestion)
}

func TestHealthOf(t *testing.T) {
	hc := HealthOf("/etc/nagios/nagios.cfg", nil)
	assert.Equal(t, model.HealthPass, hc.Status)
	assert.Equal(t, "livestatus broker module configured in /etc/nagios/nagios.cfg", hc.Message)

	err := apperr.Config(apperr.ReasonMissingDirective, "no broker_module line", "add one")
	hc = HealthOf("/etc/nagios/nagios.cfg", err)
	assert.Equal(t, model.HealthFail, hc.Status)
	assert.Equal(t, "no broker_module line", hc.Message)
	assert.Equal(t, string(apperr.ReasonMissingDirective), hc.Reason)
	assert.Equal(t, "add one", hc.Suggestion)

	hc = HealthOf("/etc/nagios/nagios.cfg", errors.New("plain"))
	assert.Equal(t, model.HealthFail, hc.Status)
	assert.Equal(t, "plain", hc.Message)
}

func TestValidateUnreadable(t *testing.T) {
	err := Validate(filepath.Join(t.TempDir(), "nagios.cfg"))
	require.Error(t, err)
	assert.Equal(t, apperr.ReasonUnreadable, apperr.ReasonOf(err))
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestValidateNotConfigured(t *testing.T) {
	env := livestatustest.NewEnvironment(t)
	env.WriteConfig(t, "broker_module=/usr/lib/ndomod.o config_file=/etc/ndomod.cfg")

	err := Validate(env.ConfigPath)
	assert.Equal(t, apperr.ReasonMissingDirective, apperr.ReasonOf(err))
	assert.Contains(t, err.Error(), "is livestatus installed and configured?")
}

func TestResolveAddress(t *testing.T) {
	env := livestatustest.NewEnvironment(t)

	addr, err := ResolveAddress("", env.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, env.SocketPath(), addr)

	addr, err = ResolveAddress("tcp:nagios:6557", "/nonexistent/nagios.cfg")
	require.NoError(t, err)
	assert.Equal(t, "tcp:nagios:6557", addr)

	_, err = ResolveAddress("", filepath.Join(t.TempDir(), "missing.cfg"))
	assert.Equal(t, apperr.ReasonUnreadable, apperr.ReasonOf(err))
}
