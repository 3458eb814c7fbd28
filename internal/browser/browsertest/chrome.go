package browsertest

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/xkilldash9x/aquario/internal/config"
)

var chromeNames = []string{
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
}

// RequireChrome skips the test when no Chrome binary is installed or the
// run is in -short mode. It returns the binary path.
func RequireChrome(t testing.TB) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	if p := os.Getenv("AQUARIO_CHROME"); p != "" {
		return p
	}
	for _, name := range chromeNames {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome or Chromium binary found")
	return ""
}

// BrowserConfig is a fast headless configuration for integration tests.
func BrowserConfig(execPath string) config.BrowserConfig {
	return config.BrowserConfig{
		Headless:          true,
		ExecPath:          execPath,
		Args:              []string{"--no-sandbox", "--disable-setuid-sandbox"},
		LaunchTimeout:     60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		ActionTimeout:     10 * time.Second,
		NavigationTimeout: 30 * time.Second,
		PostLoadWait:      50 * time.Millisecond,
	}
}
