package app

import (
	"testing"

	"github.com/charmbracelet/log"

	"msggrabber/internal/config"
)

func TestReadPort(t *testing.T) {
	t.Setenv("MSGGRABBER_PORT_VALID", "12345")
	if got := readPort("MSGGRABBER_PORT_VALID"); got != 12345 {
		t.Fatalf("readPort returned %d, want 12345", got)
	}

	t.Setenv("MSGGRABBER_PORT_INVALID", "not-a-number")
	if got := readPort("MSGGRABBER_PORT_INVALID"); got != 0 {
		t.Fatalf("readPort with invalid value returned %d, want 0", got)
	}

	t.Setenv("MSGGRABBER_PORT_ZERO", "0")
	if got := readPort("MSGGRABBER_PORT_ZERO"); got != 0 {
		t.Fatalf("readPort with zero value returned %d, want 0", got)
	}
}

func TestResolvePort(t *testing.T) {
	t.Run("env overrides fallback", func(t *testing.T) {
		t.Setenv("PRIMARY_PORT", "5050")
		if got := resolvePort("PRIMARY_PORT", 8080); got != 5050 {
			t.Fatalf("resolvePort returned %d, want 5050", got)
		}
	})

	t.Run("fallback used when env unset", func(t *testing.T) {
		if got := resolvePort("UNSET_PRIMARY", 9090); got != 9090 {
			t.Fatalf("resolvePort returned %d, want 9090", got)
		}
	})
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("CONFIG_FILE", "/etc/msggrabber.yaml")
	if got := resolveConfigPath("local.yaml"); got != "local.yaml" {
		t.Fatalf("resolveConfigPath returned %s, want local.yaml", got)
	}
	if got := resolveConfigPath(""); got != "/etc/msggrabber.yaml" {
		t.Fatalf("resolveConfigPath returned %s, want env value", got)
	}
}

func TestConfigureLogging(t *testing.T) {
	orig := log.GetLevel()
	t.Cleanup(func() { log.SetLevel(orig) })

	closeFn, err := configureLogging(config.Logging{Level: "warning"})
	if err != nil {
		t.Fatalf("configureLogging returned error: %v", err)
	}
	closeFn()
	if got := log.GetLevel(); got != log.WarnLevel {
		t.Fatalf("level = %s, want warn", got)
	}

	_, err = configureLogging(config.Logging{Email: []config.EmailTarget{{Level: "error", To: []string{"ops@example.com"}}}})
	if err == nil {
		t.Fatal("configureLogging accepted email targets without smtp settings")
	}
}
