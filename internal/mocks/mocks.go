// File: internal/mocks/mocks.go
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/aquario/internal/browser"
	"github.com/xkilldash9x/aquario/internal/env"
)

// -- Page Mock --

// MockPage mocks browser.Page.
type MockPage struct {
	mock.Mock
}

var _ browser.Page = (*MockPage)(nil)

func (m *MockPage) ID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockPage) Navigate(ctx context.Context, url string) error {
	args := m.Called(ctx, url)
	return args.Error(0)
}

func (m *MockPage) Evaluate(ctx context.Context, expression string, res interface{}) error {
	args := m.Called(ctx, expression, res)
	return args.Error(0)
}

func (m *MockPage) Click(ctx context.Context, selector string) error {
	args := m.Called(ctx, selector)
	return args.Error(0)
}

func (m *MockPage) ClickText(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

func (m *MockPage) Fill(ctx context.Context, selector, value string) error {
	args := m.Called(ctx, selector, value)
	return args.Error(0)
}

func (m *MockPage) SelectOption(ctx context.Context, selector string, match browser.OptionMatch) (string, error) {
	args := m.Called(ctx, selector, match)
	return args.String(0), args.Error(1)
}

func (m *MockPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	args := m.Called(ctx, selector, timeout)
	return args.Error(0)
}

func (m *MockPage) Exists(ctx context.Context, selector string) (bool, error) {
	args := m.Called(ctx, selector)
	return args.Bool(0), args.Error(1)
}

func (m *MockPage) Text(ctx context.Context, selector string) (string, error) {
	args := m.Called(ctx, selector)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Content(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockPage) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if b, ok := args.Get(0).([]byte); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPage) KeyDown(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockPage) KeyUp(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockPage) PressKey(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockPage) MouseClick(ctx context.Context, x, y float64) error {
	args := m.Called(ctx, x, y)
	return args.Error(0)
}

func (m *MockPage) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockPageOpener mocks browser.PageOpener.
type MockPageOpener struct {
	mock.Mock
}

var _ browser.PageOpener = (*MockPageOpener)(nil)

func (m *MockPageOpener) OpenPage(ctx context.Context, opts browser.TabOptions) (browser.Page, error) {
	args := m.Called(ctx, opts)
	if p, ok := args.Get(0).(browser.Page); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

// -- Environment Mock --

// MockEnvironment mocks env.Environment.
type MockEnvironment struct {
	mock.Mock
}

var _ env.Environment = (*MockEnvironment)(nil)

func (m *MockEnvironment) Reset(ctx context.Context) (env.Observation, env.Info, error) {
	args := m.Called(ctx)
	info, _ := args.Get(1).(env.Info)
	return args.Get(0).(env.Observation), info, args.Error(2)
}

func (m *MockEnvironment) Step(ctx context.Context, action int) (env.StepResult, error) {
	args := m.Called(ctx, action)
	return args.Get(0).(env.StepResult), args.Error(1)
}

func (m *MockEnvironment) ObservationSpace() env.Box {
	args := m.Called()
	return args.Get(0).(env.Box)
}

func (m *MockEnvironment) ActionSpace() env.Discrete {
	args := m.Called()
	return args.Get(0).(env.Discrete)
}

func (m *MockEnvironment) Render(mode env.RenderMode) error {
	args := m.Called(mode)
	return args.Error(0)
}

func (m *MockEnvironment) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
