// internal/browser/recorder.go
package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Recorder writes a tab's CDP screencast to disk as numbered JPEG frames
// under <base>/<tab id>/.
type Recorder struct {
	dir    string
	tabCtx context.Context
	logger *zap.Logger

	frames atomic.Int64
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// StartRecorder begins the screencast on the tab bound to tabCtx.
func StartRecorder(tabCtx context.Context, baseDir, tabID string, width, height int, logger *zap.Logger) (*Recorder, error) {
	dir := filepath.Join(baseDir, tabID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}

	r := &Recorder{dir: dir, tabCtx: tabCtx, logger: logger.Named("recorder")}
	chromedp.ListenTarget(tabCtx, r.onEvent)

	start := page.StartScreencast().WithFormat(page.ScreencastFormatJpeg).WithQuality(80)
	if width > 0 && height > 0 {
		start = start.WithMaxWidth(int64(width)).WithMaxHeight(int64(height))
	}
	if err := chromedp.Run(tabCtx, start); err != nil {
		return nil, fmt.Errorf("failed to start screencast: %w", err)
	}

	r.logger.Info("Recording tab.", zap.String("dir", dir))
	return r, nil
}

func (r *Recorder) onEvent(ev interface{}) {
	frame, ok := ev.(*page.EventScreencastFrame)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	// Listeners must not block the event loop.
	go func() {
		defer r.wg.Done()
		if err := r.writeFrame(frame.Data); err != nil {
			r.logger.Warn("Dropping screencast frame.", zap.Error(err))
		}
		if err := chromedp.Run(r.tabCtx, page.ScreencastFrameAck(frame.SessionID)); err != nil {
			r.logger.Debug("Screencast ack failed.", zap.Error(err))
		}
	}()
}

func (r *Recorder) writeFrame(data string) error {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	n := r.frames.Add(1)
	name := filepath.Join(r.dir, fmt.Sprintf("frame-%06d.jpg", n))
	return os.WriteFile(name, raw, 0o644)
}

// Frames reports how many frames have been written.
func (r *Recorder) Frames() int64 { return r.frames.Load() }

// Dir is where frames are written.
func (r *Recorder) Dir() string { return r.dir }

// Stop ends the screencast and waits for pending frame writes.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	stopCtx, cancel := CombineContext(r.tabCtx, ctx)
	defer cancel()
	stopCtx, cancelTimeout := context.WithTimeout(stopCtx, 5*time.Second)
	defer cancelTimeout()
	err := chromedp.Run(stopCtx, page.StopScreencast())

	r.wg.Wait()
	r.logger.Info("Recording stopped.", zap.Int64("frames", r.Frames()))
	if err != nil {
		return fmt.Errorf("failed to stop screencast: %w", err)
	}
	return nil
}
