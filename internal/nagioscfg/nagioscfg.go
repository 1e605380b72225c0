// Package nagioscfg reads the Nagios main configuration file and checks that
// the Livestatus broker module is wired up.
package nagioscfg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tinytelemetry/vigil/internal/apperr"
	"github.com/tinytelemetry/vigil/internal/model"
)

// DefaultPath is where most distributions install nagios.cfg.
const DefaultPath = "/etc/nagios/nagios.cfg"

const (
	brokerModuleKey = "broker_module"
	livestatusToken = "livestatus"
)

// maxLineSize bounds one directive line (1 MB).
const maxLineSize = 1024 * 1024

// ParseMainConfig reads key=value directives. Blank lines, comments and
// lines without '=' are skipped.
func ParseMainConfig(r io.Reader) ([]model.ConfigEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var entries []model.ConfigEntry
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		entries = append(entries, model.ConfigEntry{
			Key:   key,
			Value: strings.TrimSpace(value),
			Line:  lineNo,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("nagioscfg: scan: %w", err)
	}
	return entries, nil
}

// ReadMainConfig parses the file at path. Any failure to open or read it is
// a CONFIG error with reason unreadable.
func ReadMainConfig(path string) ([]model.ConfigEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	defer f.Close()

	entries, err := ParseMainConfig(f)
	if err != nil {
		return nil, unreadable(path, err)
	}
	return entries, nil
}

func unreadable(path string, err error) error {
	e := apperr.Config(apperr.ReasonUnreadable,
		fmt.Sprintf("cannot read nagios config %s", path),
		"check the path and that vigil may read it")
	e.Cause = err
	return e
}

// FindLivestatus returns the first broker_module entry whose value mentions
// livestatus. Later entries are never considered.
func FindLivestatus(entries []model.ConfigEntry) (model.ConfigEntry, bool) {
	for _, e := range entries {
		if e.Key == brokerModuleKey && strings.Contains(e.Value, livestatusToken) {
			return e, true
		}
	}
	return model.ConfigEntry{}, false
}

// StatFunc reports whether a path exists. os.Stat semantics.
type StatFunc func(path string) (os.FileInfo, error)

// Validate reads path and validates its Livestatus wiring.
func Validate(path string) error {
	entries, err := ReadMainConfig(path)
	if err != nil {
		return err
	}
	return ValidateEntries(entries, os.Stat)
}

// ValidateEntries checks the authoritative broker_module entry: it must
// name a module file and a socket, and both must exist.
func ValidateEntries(entries []model.ConfigEntry, stat StatFunc) error {
	if stat == nil {
		stat = os.Stat
	}

	module, socket, err := splitDirective(entries)
	if err != nil {
		return err
	}
	if !exists(stat, module) {
		return apperr.Config(apperr.ReasonMissingModuleFile,
			fmt.Sprintf("livestatus broker module not found at %q", module),
			"is nagios correctly configured?")
	}
	if !exists(stat, socket) {
		return apperr.Config(apperr.ReasonMissingSocketFile,
			fmt.Sprintf("livestatus socket file was not found (%s)", socket),
			"make sure nagios is running and that the livestatus module is loaded")
	}
	return nil
}

// LivestatusSocket returns the socket path named by the authoritative
// broker_module entry. The path is not checked.
func LivestatusSocket(entries []model.ConfigEntry) (string, error) {
	_, socket, err := splitDirective(entries)
	return socket, err
}

// ResolveAddress returns explicit when set, otherwise the socket named by
// the broker_module line of the nagios.cfg at path.
func ResolveAddress(explicit, path string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	entries, err := ReadMainConfig(path)
	if err != nil {
		return "", err
	}
	return LivestatusSocket(entries)
}

func splitDirective(entries []model.ConfigEntry) (module, socket string, err error) {
	entry, ok := FindLivestatus(entries)
	if !ok {
		return "", "", apperr.Config(apperr.ReasonMissingDirective,
			"nagios broker module not found",
			"is livestatus installed and configured?")
	}
	fields := strings.Fields(entry.Value)
	if len(fields) < 2 {
		return "", "", apperr.Config(apperr.ReasonMalformedDirective,
			fmt.Sprintf("livestatus looks incorrectly configured on line %d: %s", entry.Line, entry.Value),
			"expected broker_module=<module path> <socket path> [options]")
	}
	return fields[0], fields[1], nil
}

func exists(stat StatFunc, path string) bool {
	_, err := stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

// Check validates path and reports the outcome as a health check.
func Check(path string) model.HealthCheck {
	return HealthOf(path, Validate(path))
}

// HealthOf turns the result of Validate(path) into a health check entry.
func HealthOf(path string, err error) model.HealthCheck {
	hc := model.HealthCheck{Name: "nagios_config"}
	if err != nil {
		hc.Status = model.HealthFail
		var e *apperr.Error
		if errors.As(err, &e) {
			hc.Message = e.Message
			hc.Reason = string(e.Reason)
			hc.Suggestion = e.Suggestion
		} else {
			hc.Message = err.Error()
		}
		return hc
	}
	hc.Status = model.HealthPass
	hc.Message = fmt.Sprintf("livestatus broker module configured in %s", path)
	return hc
}
