package env

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"golang.org/x/image/draw"
)

// Interpolation names accepted in configuration.
const (
	InterpNearest = "nearest"
	InterpLinear  = "linear"
	InterpArea    = "area"
	InterpCubic   = "cubic"
)

// areaKernel is a box filter. x/image/draw widens the support by the scale
// factor when shrinking, so each output pixel averages the source pixels it covers.
var areaKernel = &draw.Kernel{
	Support: 0.5,
	At:      func(t float64) float64 { return 1 },
}

func interpolator(name string) (draw.Interpolator, error) {
	switch strings.ToLower(name) {
	case InterpNearest:
		return draw.NearestNeighbor, nil
	case InterpLinear, "":
		return draw.BiLinear, nil
	case InterpArea:
		return areaKernel, nil
	case InterpCubic:
		return draw.CatmullRom, nil
	}
	return nil, fmt.Errorf("%w: interpolation %q", ErrUnknownStrategy, name)
}

// Preprocessor turns raw PNG screenshots into fixed-size grayscale frames.
type Preprocessor struct {
	width  int
	height int
	interp draw.Interpolator
}

// NewPreprocessor returns a preprocessor producing width×height frames.
func NewPreprocessor(width, height int, interpolation string) (*Preprocessor, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("env: frame size must be positive, got %dx%d", width, height)
	}
	interp, err := interpolator(interpolation)
	if err != nil {
		return nil, err
	}
	return &Preprocessor{width: width, height: height, interp: interp}, nil
}

// Frame decodes a PNG, converts it to luma and resizes it.
func (p *Preprocessor) Frame(raw []byte) (*image.Gray, error) {
	src, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("env: decode screenshot: %w", err)
	}
	return p.Resize(src), nil
}

// Resize scales any image into a grayscale frame of the configured size.
func (p *Preprocessor) Resize(src image.Image) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, p.width, p.height))
	p.interp.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// FrameStack keeps the most recent frames, oldest first.
type FrameStack struct {
	depth  int
	width  int
	height int
	frames []*image.Gray
}

// NewFrameStack returns an empty stack of the given depth and frame size.
func NewFrameStack(depth, width, height int) *FrameStack {
	return &FrameStack{depth: depth, width: width, height: height, frames: make([]*image.Gray, 0, depth)}
}

// Depth is the number of frames an observation holds.
func (s *FrameStack) Depth() int { return s.depth }

// Len is the number of frames currently held.
func (s *FrameStack) Len() int { return len(s.frames) }

// Clear drops every frame.
func (s *FrameStack) Clear() { s.frames = s.frames[:0] }

// Push appends a frame, dropping the oldest when full.
func (s *FrameStack) Push(f *image.Gray) {
	if len(s.frames) == s.depth {
		copy(s.frames, s.frames[1:])
		s.frames = s.frames[:s.depth-1]
	}
	s.frames = append(s.frames, f)
}

// Fill replaces the contents with depth references to f.
func (s *FrameStack) Fill(f *image.Gray) {
	s.Clear()
	for i := 0; i < s.depth; i++ {
		s.frames = append(s.frames, f)
	}
}

// Latest returns the newest frame, or nil when empty.
func (s *FrameStack) Latest() *image.Gray {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Observation copies the stack into a fresh Observation. Missing leading
// frames, which only occur before the stack is seeded, are zero.
func (s *FrameStack) Observation() Observation {
	n := s.width * s.height
	obs := Observation{Depth: s.depth, Height: s.height, Width: s.width, Pix: make([]uint8, s.depth*n)}
	offset := s.depth - len(s.frames)
	for i, f := range s.frames {
		dst := obs.Pix[(offset+i)*n : (offset+i+1)*n]
		for y := 0; y < s.height; y++ {
			copy(dst[y*s.width:(y+1)*s.width], f.Pix[y*f.Stride:y*f.Stride+s.width])
		}
	}
	return obs
}
