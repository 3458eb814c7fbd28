// Package env adapts the Aquar.io browser game to a reinforcement-learning
// environment: reset and step over grayscale frame stacks, with the reward
// derived from the on-page score.
package env

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrScoreTimeout means the score indicator never became visible after a match start.
	ErrScoreTimeout = errors.New("env: score indicator did not appear")
	// ErrClanNotFound means the login form offered no team matching the configured clan.
	ErrClanNotFound = errors.New("env: clan option not found")
	// ErrInvalidAction is returned for actions outside the action space.
	ErrInvalidAction = errors.New("env: invalid action")
	// ErrNotReset is returned by Step and Render before the first successful Reset.
	ErrNotReset = errors.New("env: Reset has not been called")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("env: environment is closed")
	// ErrUnknownStrategy is returned when configuration names a strategy that does not exist.
	ErrUnknownStrategy = errors.New("env: unknown strategy")
)

// Environment is the reset/step contract consumed by the learner and drivers.
type Environment interface {
	Reset(ctx context.Context) (Observation, Info, error)
	Step(ctx context.Context, action int) (StepResult, error)
	ObservationSpace() Box
	ActionSpace() Discrete
	Render(mode RenderMode) error
	Close(ctx context.Context) error
}

// Info carries auxiliary per-call data, e.g. "score" after a step.
type Info map[string]any

// StepResult is the outcome of one Step. Truncated is part of the contract
// but this environment never truncates.
type StepResult struct {
	Observation Observation
	Reward      float64
	Terminated  bool
	Truncated   bool
	Info        Info
}

// Observation is a stack of Depth grayscale frames, oldest first, stored
// depth-major: Pix[d*Height*Width + y*Width + x].
type Observation struct {
	Depth  int
	Height int
	Width  int
	Pix    []uint8
}

// Shape returns (depth, height, width).
func (o Observation) Shape() [3]int { return [3]int{o.Depth, o.Height, o.Width} }

// At returns the pixel at frame d, row y, column x.
func (o Observation) At(d, y, x int) uint8 {
	return o.Pix[(d*o.Height+y)*o.Width+x]
}

// Frame returns the pixels of frame d without copying.
func (o Observation) Frame(d int) []uint8 {
	n := o.Height * o.Width
	return o.Pix[d*n : (d+1)*n]
}

// Box describes a bounded uint8 observation space.
type Box struct {
	Low   uint8
	High  uint8
	Shape [3]int
}

// Contains reports whether obs has the box's shape.
func (b Box) Contains(obs Observation) bool {
	return obs.Shape() == b.Shape && len(obs.Pix) == b.Shape[0]*b.Shape[1]*b.Shape[2]
}

func (b Box) String() string {
	return fmt.Sprintf("Box(%d, %d, %v, uint8)", b.Low, b.High, b.Shape)
}

// Discrete describes actions 0..N-1. Meanings names each action for logs.
type Discrete struct {
	N        int
	Meanings []string
}

// Contains reports whether a is a valid action.
func (d Discrete) Contains(a int) bool { return a >= 0 && a < d.N }

func (d Discrete) String() string { return fmt.Sprintf("Discrete(%d)", d.N) }

// RenderMode selects how Render presents the latest frame.
type RenderMode string

const (
	// RenderHuman writes the latest frame as a PNG for inspection.
	RenderHuman RenderMode = "human"
	// RenderNone does nothing.
	RenderNone RenderMode = "none"
)
