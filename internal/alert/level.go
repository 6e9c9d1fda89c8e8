// Package alert mails log records at configured levels to operators.
package alert

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

// ParseLevel accepts the level names used in the configuration file, case
// insensitive. "critical" maps to error and "warning" to warn.
func ParseLevel(name string) (log.Level, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "critical":
		n = "error"
	case "warning":
		n = "warn"
	}
	lvl, err := log.ParseLevel(n)
	if err != nil {
		return 0, fmt.Errorf("bad log level: %q", name)
	}
	return lvl, nil
}

// levelOf finds the level label charmbracelet's text formatter writes near
// the start of a line.
func levelOf(line string) (log.Level, bool) {
	fields := strings.Fields(line)
	if len(fields) > 4 {
		fields = fields[:4]
	}
	for _, f := range fields {
		switch strings.ToUpper(f) {
		case "DEBU", "DEBUG":
			return log.DebugLevel, true
		case "INFO":
			return log.InfoLevel, true
		case "WARN":
			return log.WarnLevel, true
		case "ERRO", "ERROR":
			return log.ErrorLevel, true
		case "FATA", "FATAL":
			return log.FatalLevel, true
		}
	}
	return 0, false
}
