package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
)

// Smallest valid PNG: 1x1 transparent pixel.
var pixelPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

const bookingFormPage = `<html><body><form id="BookingS1Form" action="/next" method="get">
<img class="captcha-img" src="/captcha.png" width="1" height="1">
<select name="selectStartStation"><option value="1">南港</option><option value="2">台北</option></select>
<input type="text" name="homeCaptcha:securityCode">
<input type="radio" name="trainCon:trainRadioGroup" value="0">
<input type="radio" name="trainCon:trainRadioGroup" value="1">
<input type="checkbox" name="agree">
<button type="button" id="stay">重新產生</button>
<input type="submit" name="SubmitButton" value="開始查詢">
</form></body></html>`

func TestNewAutomationStructure(t *testing.T) {
	a := &Automation{config: DefaultConfig(), logger: slog.Default()}

	if a.isBrowserAlive() {
		t.Error("Automation without a browser should not report alive")
	}

	// Close must be safe before anything was launched.
	if err := a.Close(); err != nil {
		t.Errorf("Close returned %v", err)
	}
}

func TestResetWithoutBrowser(t *testing.T) {
	config := DefaultConfig()
	config.ChromeBin = filepath.Join(t.TempDir(), "no-such-chrome")
	config.BrowserProfilePath = t.TempDir()
	a := &Automation{config: config, logger: slog.Default()}
	defer a.Close()

	done := make(chan error, 1)
	go func() { done <- a.Reset(context.Background()) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("Reset should fail when Chrome cannot be launched")
		}
	case <-time.After(30 * time.Second):
		t.Fatal("Reset did not return")
	}

	if a.browser != nil || a.page != nil || a.launcher != nil {
		t.Error("failed launch left browser state behind")
	}
}

func TestAccessorWithoutSession(t *testing.T) {
	a := &Automation{config: DefaultConfig(), logger: slog.Default()}
	ctx := context.Background()

	if _, err := a.Markup(ctx); err != errNoSession {
		t.Errorf("Markup: expected errNoSession, got %v", err)
	}
	if err := a.WaitFor(ctx, FieldSecurityCode, time.Second); err != errNoSession {
		t.Errorf("WaitFor: expected errNoSession, got %v", err)
	}
	if err := a.Click(ctx, FieldCaptchaRefresh); err == nil {
		t.Error("Click without a page should fail")
	}
	if err := a.Submit(ctx, FieldSubmit); err == nil {
		t.Error("Submit without a page should fail")
	}
}

func TestSetValueScriptFiresEvents(t *testing.T) {
	for _, event := range []string{"'input'", "'change'"} {
		if !strings.Contains(setValueJS, event) {
			t.Errorf("setValueJS should dispatch %s", event)
		}
	}
}

func TestAutomationWithChrome(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	chrome, ok := launcher.LookPath()
	if !ok {
		t.Skip("no local Chrome found")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/captcha.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(pixelPNG)
		case "/next":
			w.Write([]byte(`<html><body><div id="TrainQueryDataViewPanel">results</div></body></html>`))
		default:
			w.Write([]byte(bookingFormPage))
		}
	}))
	defer srv.Close()

	config := DefaultConfig()
	config.ChromeBin = chrome
	config.BrowserProfilePath = filepath.Join(t.TempDir(), "profile")
	config.PageLoadTimeout = 20
	config.Selectors[FieldCaptchaRefresh] = "#stay"

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	a, err := NewAutomation(ctx, config, logger)
	if err != nil {
		t.Fatalf("NewAutomation failed: %v", err)
	}
	defer a.Close()

	if !a.isBrowserAlive() {
		t.Fatal("browser should be alive after launch")
	}

	if err := a.Open(ctx, srv.URL); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := a.WaitFor(ctx, FieldSecurityCode, 5*time.Second); err != nil {
		t.Fatalf("WaitFor failed: %v", err)
	}

	img, err := a.Capture(ctx, FieldCaptchaImage)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if len(img.Data) == 0 {
		t.Error("Capture returned no data")
	}

	if err := a.Set(ctx, FieldSecurityCode, "AB12"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got := a.page.MustElement("input[name='homeCaptcha:securityCode']").MustProperty("value").String(); got != "AB12" {
		t.Errorf("Expected code 'AB12', got '%s'", got)
	}

	if err := a.Set(ctx, FieldStartStation, "2"); err != nil {
		t.Fatalf("Set select failed: %v", err)
	}

	if err := a.ChooseIndex(ctx, FieldCarClass, 1); err != nil {
		t.Fatalf("ChooseIndex failed: %v", err)
	}
	if err := a.ChooseIndex(ctx, FieldCarClass, 5); err == nil {
		t.Error("ChooseIndex out of range should fail")
	}
	if err := a.Choose(ctx, FieldCarClass, "0"); err != nil {
		t.Fatalf("Choose failed: %v", err)
	}
	if err := a.Choose(ctx, FieldCarClass, "9"); err == nil {
		t.Error("Choose with unknown value should fail")
	}

	if err := a.Check(ctx, FieldAgree); err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !a.page.MustElement("input[name='agree']").MustProperty("checked").Bool() {
		t.Error("agree box should be checked")
	}

	// A button that never navigates: Submit returns after the load timeout
	// and leaves a warning behind.
	config.PageLoadTimeout = 1
	if err := a.Submit(ctx, FieldCaptchaRefresh); err != nil {
		t.Fatalf("Submit without navigation failed: %v", err)
	}
	if !strings.Contains(logs.String(), "submit did not navigate") {
		t.Errorf("Expected a navigation timeout warning, got %s", logs.String())
	}
	config.PageLoadTimeout = 20

	if err := a.Submit(ctx, FieldSubmit); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	html, err := a.Markup(ctx)
	if err != nil {
		t.Fatalf("Markup failed: %v", err)
	}
	if !strings.Contains(html, "TrainQueryDataViewPanel") {
		t.Errorf("Expected the result page after submit, got %s", html)
	}

	if err := a.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := a.Open(ctx, srv.URL); err != nil {
		t.Fatalf("Open after Reset failed: %v", err)
	}
}
