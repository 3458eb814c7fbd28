package agent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotRewards draws episode rewards, plus a moving average when there are
// enough episodes, and saves the chart to path.
func PlotRewards(rewards []float64, window int, path string) error {
	if len(rewards) == 0 {
		return errors.New("agent: no episodes to plot")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("agent: create plot dir: %w", err)
	}

	p := plot.New()
	p.Title.Text = "Episode rewards"
	p.X.Label.Text = "Episode"
	p.Y.Label.Text = "Reward"

	points := make(plotter.XYs, len(rewards))
	for i, r := range rewards {
		points[i] = plotter.XY{X: float64(i + 1), Y: r}
	}
	line, err := plotter.NewLine(points)
	if err != nil {
		return fmt.Errorf("agent: plot rewards: %w", err)
	}
	line.Color = plotutil.Color(0)
	p.Add(line)
	p.Legend.Add("reward", line)

	if window > 1 && len(rewards) >= window {
		avg := make(plotter.XYs, 0, len(rewards)-window+1)
		sum := 0.0
		for i, r := range rewards {
			sum += r
			if i >= window {
				sum -= rewards[i-window]
			}
			if i >= window-1 {
				avg = append(avg, plotter.XY{X: float64(i + 1), Y: sum / float64(window)})
			}
		}
		smooth, err := plotter.NewLine(avg)
		if err != nil {
			return fmt.Errorf("agent: plot moving average: %w", err)
		}
		smooth.Color = plotutil.Color(1)
		p.Add(smooth)
		p.Legend.Add(fmt.Sprintf("mean of %d", window), smooth)
	}

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("agent: save plot: %w", err)
	}
	return nil
}
