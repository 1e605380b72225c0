package livestatustest

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Column sets of the default tables.
var (
	LogColumns     = []string{"time", "class", "host_name", "service_description", "state", "state_type", "plugin_output"}
	HostColumns    = []string{"name", "state", "plugin_output", "perf_data", "last_check"}
	ServiceColumns = []string{"host_name", "description", "state", "plugin_output", "perf_data", "last_check"}
)

// Environment is a fake Nagios install: a broker module file, a running
// fake Livestatus daemon and a nagios.cfg that wires them together.
type Environment struct {
	Dir        string
	ModulePath string
	ConfigPath string
	Server     *Server
}

// NewEnvironment builds an environment with default tables: a one-row
// status table, host ok_host, contact nagiosadmin and an empty log.
func NewEnvironment(t testing.TB) *Environment {
	t.Helper()

	dir := t.TempDir()
	env := &Environment{
		Dir:        dir,
		ModulePath: filepath.Join(dir, "livestatus.o"),
		ConfigPath: filepath.Join(dir, "nagios.cfg"),
		Server:     NewServer(t),
	}

	if err := os.WriteFile(env.ModulePath, []byte("\x7fELF"), 0o644); err != nil {
		t.Fatalf("livestatustest: write module: %v", err)
	}
	env.WriteConfig(t, fmt.Sprintf("broker_module=%s %s", env.ModulePath, env.Server.Path()))

	s := env.Server
	s.SetTable("status", []string{"requests", "program_version"}, []string{"1", "3.5.1"})
	s.SetTable("hosts", HostColumns, []string{"ok_host", "0", "PING OK", "", "0"})
	s.SetTable("services", ServiceColumns)
	s.SetTable("contacts", []string{"name", "alias"}, []string{"nagiosadmin", "Nagios Admin"})
	s.SetTable("log", LogColumns)
	return env
}

// WriteConfig replaces nagios.cfg with the given directive lines.
func (e *Environment) WriteConfig(t testing.TB, lines ...string) {
	t.Helper()
	body := "# nagios.cfg written by livestatustest\nlog_file=/var/log/nagios/nagios.log\n"
	for _, l := range lines {
		body += l + "\n"
	}
	if err := os.WriteFile(e.ConfigPath, []byte(body), 0o644); err != nil {
		t.Fatalf("livestatustest: write config: %v", err)
	}
}

// SocketPath returns the fake daemon's socket path.
func (e *Environment) SocketPath() string { return e.Server.Path() }
