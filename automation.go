package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const elementTimeout = 10 * time.Second

// setValueJS writes a value the way a user would, so the page's listeners fire.
const setValueJS = `function (v) {
	this.value = v;
	this.dispatchEvent(new Event('input', { bubbles: true }));
	this.dispatchEvent(new Event('change', { bubbles: true }));
}`

const clickJS = `function () { this.click(); }`

var errNoSession = errors.New("no browser session open")

// Automation is the Chrome-backed FormFieldAccessor. Every Reset opens a fresh
// incognito context with a stealth page, so cookies never leak between sessions.
type Automation struct {
	config   *Config
	logger   *slog.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser
	session  *rod.Browser
	page     *rod.Page
}

// NewAutomation launches the browser and opens the first session.
func NewAutomation(ctx context.Context, config *Config, logger *slog.Logger) (*Automation, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Automation{config: config, logger: logger}

	if err := a.setupBrowser(); err != nil {
		return nil, err
	}
	if err := a.Reset(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Automation) setupBrowser() error {
	a.logger.Info(T("browser_launching"))

	// Disable leakless mode on Windows to prevent deadlock
	// See: https://github.com/go-rod/rod/issues/853
	useLeakless := runtime.GOOS != "windows"

	l := launcher.New().
		Leakless(useLeakless).
		Headless(a.config.Headless)

	if a.config.BrowserProfilePath != "" {
		l = l.UserDataDir(a.config.BrowserProfilePath)
		a.logger.Debug(T("browser_profile_path_set", a.config.BrowserProfilePath))
	}

	chromePath := a.config.ChromeBin
	if chromePath == "" {
		if p, ok := launcher.LookPath(); ok {
			chromePath = p
		}
	}
	if chromePath != "" {
		l = l.Bin(chromePath)
		a.logger.Debug(T("browser_chrome_path_set", chromePath))
	} else {
		a.logger.Info(T("browser_chrome_not_found"))
	}

	// A failed Launch never closes the launcher, so it is only kept once
	// the browser is connected.
	url, err := l.Launch()
	if err != nil {
		errMsg := err.Error()
		if strings.Contains(errMsg, "ProcessSingleton") || strings.Contains(errMsg, "SingletonLock") {
			return fmt.Errorf("%s: %w", T("error_chrome_already_running"), err)
		}
		if strings.Contains(errMsg, "Access is denied") || strings.Contains(errMsg, "permission denied") {
			return fmt.Errorf("%s: %w", T("error_browser_download_permission"), err)
		}
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}
	a.launcher = l
	a.browser = browser

	a.logger.Info(T("browser_launched"))
	return nil
}

func (a *Automation) isBrowserAlive() bool {
	if a.browser == nil {
		return false
	}

	if _, err := a.browser.Version(); err != nil {
		a.logger.Debug("browser version check failed", "err", err)
		return false
	}

	if a.page != nil {
		if _, err := a.page.Info(); err != nil {
			a.logger.Debug("page info check failed", "err", err)
			return false
		}
	}

	return true
}

// ensureBrowser relaunches Chrome if it died or was closed by the user.
func (a *Automation) ensureBrowser(ctx context.Context) error {
	if a.isBrowserAlive() {
		return nil
	}

	return a.Reset(ctx)
}

// relaunch replaces a dead or missing browser with a new one.
func (a *Automation) relaunch() error {
	a.logger.Warn(T("browser_closed_relaunching"))
	a.closeBrowser()
	return a.setupBrowser()
}

// Reset replaces the current incognito context and page.
func (a *Automation) Reset(ctx context.Context) error {
	if a.page != nil {
		a.page.Close()
		a.page = nil
	}
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}

	if !a.isBrowserAlive() {
		if err := a.relaunch(); err != nil {
			return err
		}
	}

	session, err := a.browser.Context(ctx).Incognito()
	if err != nil {
		return fmt.Errorf("failed to create incognito context: %w", err)
	}
	a.session = session

	page, err := stealth.Page(session)
	if err != nil {
		return fmt.Errorf("failed to create stealth page: %w", err)
	}
	a.page = page

	if a.config.UserAgent != "" {
		err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      a.config.UserAgent,
			AcceptLanguage: "zh-TW,zh;q=0.9,en;q=0.8",
		})
		if err != nil {
			a.logger.Debug("failed to set user agent", "err", err)
		}
	}

	if a.config.ViewportWidth > 0 && a.config.ViewportHeight > 0 {
		err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             a.config.ViewportWidth,
			Height:            a.config.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			a.logger.Debug("failed to set viewport", "err", err)
		}
	}

	a.logger.Debug("new browser session ready")
	return nil
}

func (a *Automation) Open(ctx context.Context, url string) error {
	if err := a.ensureBrowser(ctx); err != nil {
		return err
	}

	page, err := a.currentPage()
	if err != nil {
		return err
	}
	p := page.Context(ctx).Timeout(a.config.pageLoadTimeout())
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("page failed to load: %w", err)
	}
	return nil
}

func (a *Automation) currentPage() (*rod.Page, error) {
	if a.page == nil {
		return nil, errNoSession
	}
	return a.page, nil
}

func (a *Automation) WaitFor(ctx context.Context, f Field, timeout time.Duration) error {
	page, err := a.currentPage()
	if err != nil {
		return err
	}
	_, err = page.Context(ctx).Timeout(timeout).Element(a.config.Selector(f))
	if err != nil {
		return fmt.Errorf("%s not found: %w", f, err)
	}
	return nil
}

func (a *Automation) element(ctx context.Context, f Field) (*rod.Element, error) {
	page, err := a.currentPage()
	if err != nil {
		return nil, err
	}
	el, err := page.Context(ctx).Timeout(elementTimeout).Element(a.config.Selector(f))
	if err != nil {
		return nil, fmt.Errorf("%s not found: %w", f, err)
	}
	return el.CancelTimeout(), nil
}

func (a *Automation) elements(ctx context.Context, f Field) (rod.Elements, error) {
	if _, err := a.element(ctx, f); err != nil {
		return nil, err
	}
	els, err := a.page.Context(ctx).Elements(a.config.Selector(f))
	if err != nil {
		return nil, fmt.Errorf("%s not found: %w", f, err)
	}
	return els, nil
}

// Capture prefers the image resource itself and falls back to a screenshot of
// the element when the resource cannot be read.
func (a *Automation) Capture(ctx context.Context, f Field) (ChallengeImage, error) {
	el, err := a.element(ctx, f)
	if err != nil {
		return ChallengeImage{}, err
	}

	if data, err := el.Resource(); err == nil && len(data) > 0 {
		return ChallengeImage{Data: data, Source: SourceFetched}, nil
	} else if err != nil {
		a.logger.Debug("challenge resource unavailable, taking screenshot", "err", err)
	}

	data, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return ChallengeImage{}, fmt.Errorf("failed to screenshot %s: %w", f, err)
	}
	return ChallengeImage{Data: data, Source: SourceScreenshot}, nil
}

func (a *Automation) Set(ctx context.Context, f Field, value string) error {
	el, err := a.element(ctx, f)
	if err != nil {
		return err
	}
	if _, err := el.Eval(setValueJS, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", f, err)
	}
	return nil
}

func (a *Automation) Click(ctx context.Context, f Field) error {
	el, err := a.element(ctx, f)
	if err != nil {
		return err
	}
	return a.click(el, f)
}

// click uses a real mouse click and falls back to a scripted one for inputs
// the site hides behind styled labels.
func (a *Automation) click(el *rod.Element, f Field) error {
	if err := el.Click(proto.InputMouseButtonLeft, 1); err == nil {
		return nil
	} else {
		a.logger.Debug("mouse click failed, using script click", "field", f, "err", err)
	}
	if _, err := el.Eval(clickJS); err != nil {
		return fmt.Errorf("failed to click %s: %w", f, err)
	}
	return nil
}

func (a *Automation) ChooseIndex(ctx context.Context, f Field, i int) error {
	els, err := a.elements(ctx, f)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(els) {
		return fmt.Errorf("%s has %d options, cannot choose %d", f, len(els), i)
	}
	return a.click(els[i], f)
}

func (a *Automation) Choose(ctx context.Context, f Field, value string) error {
	els, err := a.elements(ctx, f)
	if err != nil {
		return err
	}
	for _, el := range els {
		v, err := el.Attribute("value")
		if err != nil || v == nil {
			continue
		}
		if *v == value {
			return a.click(el, f)
		}
	}
	return fmt.Errorf("%s has no option %q", f, value)
}

func (a *Automation) Check(ctx context.Context, f Field) error {
	el, err := a.element(ctx, f)
	if err != nil {
		return err
	}
	checked, err := el.Property("checked")
	if err == nil && checked.Bool() {
		return nil
	}
	return a.click(el, f)
}

func (a *Automation) Submit(ctx context.Context, f Field) error {
	el, err := a.element(ctx, f)
	if err != nil {
		return err
	}

	timeout := a.config.pageLoadTimeout()
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	wait := a.page.Context(waitCtx).WaitNavigation(proto.PageLifecycleEventNameLoad)
	if err := a.click(el, f); err != nil {
		return err
	}
	wait()
	if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		a.logger.Warn("submit did not navigate, page may be stale", "field", f, "timeout", timeout)
	}
	return nil
}

func (a *Automation) Markup(ctx context.Context) (string, error) {
	page, err := a.currentPage()
	if err != nil {
		return "", err
	}
	html, err := page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page: %w", err)
	}
	return html, nil
}

func (a *Automation) closeBrowser() {
	if a.page != nil {
		a.page.Close()
		a.page = nil
	}
	if a.session != nil {
		a.session.Close()
		a.session = nil
	}
	if a.browser != nil {
		a.browser.Close()
		a.browser = nil
	}
	if a.launcher != nil {
		a.launcher.Cleanup()
		a.launcher = nil
	}
}

func (a *Automation) Close() error {
	a.logger.Debug(T("cleaning_up"))
	a.closeBrowser()
	a.logger.Debug(T("browser_destroyed"))
	return nil
}
