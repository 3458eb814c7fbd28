// internal/browser/launcher.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/config"
)

// Launcher owns one browser process. Every tab it opens lives in its own
// browser context, so cookies and storage are not shared between tabs.
// The caller that created a Launcher is responsible for calling Shutdown
// after closing its tabs.
type Launcher struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocatorCtx owns the OS process; browserCtx owns the CDP connection.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	mu     sync.Mutex
	tabs   map[string]*Tab
	closed bool

	// wg tracks open tabs for a graceful shutdown.
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewLauncher starts the browser and verifies it responds.
func NewLauncher(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Launcher, error) {
	l := &Launcher{
		logger: logger.Named("launcher"),
		cfg:    cfg,
		tabs:   make(map[string]*Tab),
	}
	if err := l.launch(ctx); err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	return l, nil
}

func (l *Launcher) launch(ctx context.Context) error {
	l.logger.Info("Launching browser...", zap.Bool("headless", l.cfg.Headless))

	// The process must outlive the context that asked for it; Shutdown ends it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	timeout := l.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cancelAll := func() {
		browserCancel()
		allocCancel()
	}
	if err := startTarget(ctx, browserCtx, timeout, cancelAll); err != nil {
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	l.allocatorCtx, l.allocatorCancel = allocCtx, allocCancel
	l.browserCtx, l.browserCancel = browserCtx, browserCancel
	l.logger.Info("Browser launched and responsive.")
	return nil
}

// allocatorOptions builds the exec allocator flags from configuration.
func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions {
		opts = append(opts, opt)
	}

	opts = append(opts,
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.Flag("disable-gpu", l.cfg.Headless),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}

	for _, arg := range l.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts, chromedp.Flag("disable-dev-shm-usage", true))
	}
	return opts
}

// NewTab opens an isolated tab sized to opts.
func (l *Launcher) NewTab(ctx context.Context, opts TabOptions) (*Tab, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLauncherClosed
	}
	l.wg.Add(1)
	l.mu.Unlock()

	id := uuid.NewString()
	tabCtx, tabCancel := chromedp.NewContext(l.browserCtx, chromedp.WithNewBrowserContext())
	tab := newTab(id, tabCtx, tabCancel, l.cfg, l.logger)
	tab.onClose = func() { l.release(id) }

	if err := tab.init(ctx, opts); err != nil {
		_ = tab.Close(ctx)
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}

	l.mu.Lock()
	l.tabs[id] = tab
	l.mu.Unlock()

	l.logger.Debug("Tab opened.", zap.String("tab_id", id), zap.Int("width", opts.Width), zap.Int("height", opts.Height))
	return tab, nil
}

// OpenPage implements PageOpener.
func (l *Launcher) OpenPage(ctx context.Context, opts TabOptions) (Page, error) {
	tab, err := l.NewTab(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tab, nil
}

// OpenTabs reports how many tabs are still open.
func (l *Launcher) OpenTabs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tabs)
}

func (l *Launcher) release(id string) {
	l.mu.Lock()
	delete(l.tabs, id)
	l.mu.Unlock()
	l.wg.Done()
}

// Shutdown waits for open tabs to close, bounded by ctx and the configured
// shutdown timeout, then terminates the browser process. Safe to call more
// than once; only the first call does anything.
func (l *Launcher) Shutdown(ctx context.Context) error {
	l.shutdownOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		open := len(l.tabs)
		l.mu.Unlock()

		l.logger.Info("Browser shutdown initiated.", zap.Int("open_tabs", open))

		timeout := l.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		done := make(chan struct{})
		go func() {
			l.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			l.logger.Debug("All tabs closed.")
		case <-waitCtx.Done():
			l.logger.Warn("Tabs still open at shutdown deadline; forcing browser termination.", zap.Error(waitCtx.Err()))
		}

		l.browserCancel()
		l.allocatorCancel()
		<-l.allocatorCtx.Done()
		l.logger.Info("Browser process terminated.")
	})
	return nil
}

// startTarget performs the first Run on a chromedp context, which allocates
// the browser or target. That Run must receive the chromedp context itself:
// chromedp ties the process and target lifetime to the context of the first
// Run, so a derived timeout context would kill them once it expired.
func startTarget(parent, cdpCtx context.Context, timeout time.Duration, cancel context.CancelFunc) error {
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(cdpCtx) }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-errc:
		if err != nil {
			cancel()
		}
		return err
	case <-timer.C:
		cancel()
		return fmt.Errorf("timed out after %v: %w", timeout, context.DeadlineExceeded)
	case <-parent.Done():
		cancel()
		return parent.Err()
	}
}
