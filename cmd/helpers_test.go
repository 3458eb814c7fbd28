package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/browser"
	"github.com/xkilldash9x/aquario/internal/browser/browsertest"
	"github.com/xkilldash9x/aquario/internal/config"
	"github.com/xkilldash9x/aquario/internal/observability"
	"github.com/xkilldash9x/aquario/internal/pool"
	"github.com/xkilldash9x/aquario/internal/store"
)

const hudPage = `<html><body><div id="hud">Score: <span id="score">0</span></div></body></html>`

// newGamePage returns a fake tab showing the score and offering every
// option the default login form asks for.
func newGamePage(withClan bool) *browsertest.FakePage {
	p := browsertest.NewFakePage(hudPage)
	p.SetVisible("#score", true)
	p.SetOptions("select[name='server']", "America", "Europe")
	p.SetOptions("select[name='mode']", "FFA", "Teams")
	if withClan {
		p.SetOptions("select[name='team']", "Random", "GARAY CLAN [EU]")
	} else {
		p.SetOptions("select[name='team']", "Random")
	}
	return p
}

// fakeLauncher is a browser whose tabs are fake pages.
type fakeLauncher struct {
	mu       sync.Mutex
	withClan bool
	pages    []*browsertest.FakePage
	tabs     []browser.TabOptions
	shutdown bool
}

func (l *fakeLauncher) OpenPage(ctx context.Context, opts browser.TabOptions) (browser.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return nil, browser.ErrLauncherClosed
	}
	p := newGamePage(l.withClan)
	l.pages = append(l.pages, p)
	l.tabs = append(l.tabs, opts)
	return p, nil
}

func (l *fakeLauncher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shutdown = true
	return nil
}

func (l *fakeLauncher) allClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.pages {
		if !p.Closed() {
			return false
		}
	}
	return l.shutdown
}

// fakeBrowsers records every browser a command launches.
type fakeBrowsers struct {
	mu       sync.Mutex
	noClan   bool
	launched []*fakeLauncher
}

func (b *fakeBrowsers) launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (pool.Launcher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := &fakeLauncher{withClan: !b.noClan}
	b.launched = append(b.launched, l)
	return l, nil
}

func (b *fakeBrowsers) all() []*fakeLauncher {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*fakeLauncher(nil), b.launched...)
}

// mockStoreProvider hands out a store built over a mock pool.
type mockStoreProvider struct {
	store   *store.Store
	err     error
	created int
	cleaned int
}

func (m *mockStoreProvider) Create(ctx context.Context, cfg *config.Config) (*store.Store, func(), error) {
	m.created++
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.store, func() { m.cleaned++ }, nil
}

// quietGame removes real-time delays and points every output directory
// into a temporary directory. It returns that directory.
func quietGame(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AQUARIO_LOGGER_LEVEL", "error")
	t.Setenv("AQUARIO_GAME_SETTLE_DELAY", "0s")
	t.Setenv("AQUARIO_GAME_KEY_HOLD", "0s")
	t.Setenv("AQUARIO_GAME_FORM_PAUSE", "0s")
	t.Setenv("AQUARIO_GAME_RENDER_DIR", filepath.Join(dir, "renders"))
	t.Setenv("AQUARIO_POOL_LAUNCH_RATE", "0")
	t.Setenv("AQUARIO_TRAIN_LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("AQUARIO_TRAIN_MODEL_DIR", filepath.Join(dir, "best_model"))
	t.Setenv("AQUARIO_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	return dir
}

// executeCommand runs a fresh command tree and returns everything it printed.
func executeCommand(t *testing.T, deps dependencies, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := newRootCmd(deps)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// createTempConfig writes content to a YAML file in a temporary directory.
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
