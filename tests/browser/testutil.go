// Package browser runs scenarios through the real Playwright engine. Local
// tests drive a small fixture site served by httptest; live tests hit the
// public demo sites and only run when SCENARIO_LIVE=1.
package browser

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/kuitang/scenario-suite/internal/engine/pwengine"
	"github.com/kuitang/scenario-suite/internal/suite"
)

const (
	// Keep every wait in this package at or below this bound.
	browserMaxTimeout = 5 * time.Second
)

var (
	engineMu     sync.Mutex
	sharedEngine *pwengine.Engine
	engineErr    error
)

// Engine returns the shared browser engine, skipping the test when
// Playwright or the browser is not installed.
func Engine(t *testing.T) *pwengine.Engine {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in -short mode")
	}

	engineMu.Lock()
	defer engineMu.Unlock()
	if sharedEngine == nil && engineErr == nil {
		browser := os.Getenv("SCENARIO_BROWSER")
		sharedEngine, engineErr = pwengine.Launch(pwengine.Options{Browser: browser, Headless: true})
	}
	if engineErr != nil {
		t.Skip("Playwright not available:", engineErr)
	}
	return sharedEngine
}

// NewRunner builds a runner on the shared engine with short waits.
func NewRunner(t *testing.T, sinks ...suite.Sink) *suite.Runner {
	t.Helper()
	return suite.NewRunner(Engine(t), suite.Options{
		DefaultTimeout:    browserMaxTimeout,
		NavigationTimeout: browserMaxTimeout,
		ScenarioTimeout:   30 * time.Second,
		Parallelism:       2,
		Screenshots:       true,
	}, nil, sinks...)
}

// =============================================================================
// Fixture site
// =============================================================================

const fixtureHome = `<!doctype html>
<html><head><title>Fixture Home</title></head>
<body>
  <nav><a href="/form">Form</a> <a href="/other" target="_blank">Community</a></nav>
  <h1 id="hello">Hello&#8203; fixture</h1>
  <ul class="item"><li>one</li></ul><ul class="item"><li>two</li></ul>
  <button id="toggle" onclick="document.getElementById('panel').hidden = !document.getElementById('panel').hidden">Toggle</button>
  <div id="panel" hidden>Panel open</div>
  <input placeholder="Search docs" id="search">
</body></html>`

const fixtureForm = `<!doctype html>
<html><head><title>Web form</title></head>
<body>
  <form method="get" action="/submitted">
    <input id="my-text" name="my-text">
    <button type="submit">Submit</button>
  </form>
</body></html>`

const fixtureSubmitted = `<!doctype html>
<html><head><title>Web form - target page</title></head>
<body><p id="message">Received!</p></body></html>`

const fixtureOther = `<!doctype html>
<html><head><title>Other page</title></head><body><h1>Other</h1></body></html>`

const fixtureConsole = `<!doctype html>
<html><head><title>Noisy</title></head>
<body><script>console.error("fixture exploded")</script></body></html>`

const fixtureSlow = `<!doctype html>
<html><head><title>Slow</title></head>
<body><script>setTimeout(function () {
  var p = document.createElement("p"); p.id = "late"; p.textContent = "Loaded late"; document.body.appendChild(p);
}, 300)</script></body></html>`

// FixtureSite serves the fixture pages until the test ends.
func FixtureSite(t *testing.T) *httptest.Server {
	t.Helper()
	pages := map[string]string{
		"/":          fixtureHome,
		"/form":      fixtureForm,
		"/submitted": fixtureSubmitted,
		"/other":     fixtureOther,
		"/console":   fixtureConsole,
		"/slow":      fixtureSlow,
	}
	mux := http.NewServeMux()
	for path, body := range pages {
		pattern := "GET " + path
		if path == "/" {
			pattern += "{$}"
		}
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, body)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}
