// Package playwright adapts a playwright-go browser session to the
// capability surface the diagnostics subsystem depends on.
package playwright

import (
	"fmt"
	"io"

	pw "github.com/playwright-community/playwright-go"
)

const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720

	// DefaultTimeout is the per-operation timeout in milliseconds.
	DefaultTimeout = 30000.0
)

// Viewport defines browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// SessionOptions configures a new browser session.
type SessionOptions struct {
	Headless bool
	Viewport *Viewport
	Timeout  float64
}

// Session owns one browser, context, and page. Close releases all three
// plus the playwright runtime.
type Session struct {
	runtime *pw.Playwright
	browser pw.Browser
	context pw.BrowserContext
	page    pw.Page
}

// StartSession installs and starts playwright, launches a Chromium
// browser, and opens a single page.
func StartSession(opts SessionOptions) (*Session, error) {
	// Discard driver output so it can't interfere with CLI rendering.
	runOpts := &pw.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}

	if err := pw.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}

	runtime, err := pw.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	if opts.Viewport == nil {
		opts.Viewport = &Viewport{
			Width:  DefaultViewportWidth,
			Height: DefaultViewportHeight,
		}
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	browser, err := runtime.Chromium.Launch(pw.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
	})
	if err != nil {
		_ = runtime.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	context, err := browser.NewContext(pw.BrowserNewContextOptions{
		Viewport: &pw.Size{
			Width:  opts.Viewport.Width,
			Height: opts.Viewport.Height,
		},
	})
	if err != nil {
		_ = browser.Close()
		_ = runtime.Stop()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := context.NewPage()
	if err != nil {
		_ = context.Close()
		_ = browser.Close()
		_ = runtime.Stop()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(opts.Timeout)

	return &Session{
		runtime: runtime,
		browser: browser,
		context: context,
		page:    page,
	}, nil
}

// Navigate loads the given URL and waits for the load event.
func (s *Session) Navigate(url string) error {
	waitUntil := pw.WaitUntilStateLoad
	if _, err := s.page.Goto(url, pw.PageGotoOptions{WaitUntil: waitUntil}); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Driver returns a diagnostics driver bound to the session's page.
func (s *Session) Driver() *Driver {
	return NewDriver(s.page)
}

// Close releases the page, context, browser, and playwright runtime.
// Cleanup continues past individual failures.
func (s *Session) Close() error {
	_ = s.page.Close()
	_ = s.context.Close()
	_ = s.browser.Close()
	if err := s.runtime.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}
