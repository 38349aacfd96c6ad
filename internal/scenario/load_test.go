package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchYAML = `
scenarios:
  - name: docs search
    site: docs
    tags: [smoke, docs]
    timeout: 90s
    viewport: {width: 1280, height: 720}
    steps:
      - navigate: https://playwright.dev/
        wait_until: load
        timeout: 60s
      - click: {xpath: '//*[@id="__docusaurus"]/nav/div[1]/div[2]/div[2]/button/span[1]/span'}
      - fill: {placeholder: Search docs}
        value: browser
      - press: Enter
      - wait_for: {css: 'ul[role="listbox"], div[role="listbox"], p', first: true}
        state: attached
      - expect_visible: {text: browser, first: true}
      - expect_text: {id: running-the-example-test}
        matches: {exact: Running the Example Test}
      - expect_count: {css: .shopping_cart_badge}
        count: 0
      - expect_title: {regex: Playwright}
      - expect_url: {glob: "*intro*"}
      - click_opens_page: {role: link, name: Community, exact: true, nth: 1}
      - expect_no_console_errors: true
`

func TestParse_AllStepShapes(t *testing.T) {
	t.Parallel()

	scenarios, err := Parse(strings.NewReader(searchYAML))
	require.NoError(t, err)
	require.Len(t, scenarios, 1)

	sc := scenarios[0]
	assert.Equal(t, "docs search", sc.Name)
	assert.Equal(t, SiteDocs, sc.Site)
	assert.Equal(t, 90*time.Second, sc.Timeout)
	assert.Equal(t, &Viewport{Width: 1280, Height: 720}, sc.Viewport)
	assert.True(t, sc.HasTag("DOCS"))
	require.NoError(t, sc.Validate())

	steps := sc.Steps
	require.Len(t, steps, 12)
	assert.Equal(t, StepNavigate, steps[0].Kind)
	assert.Equal(t, LoadLoad, steps[0].Load)
	assert.Equal(t, 60*time.Second, steps[0].Timeout)
	assert.Equal(t, ByXPath, steps[1].Selector.Strategy)
	assert.Equal(t, "browser", steps[2].Value)
	assert.Equal(t, "Enter", steps[3].Key)
	assert.Equal(t, StateAttached, steps[4].State)
	assert.Equal(t, OrdinalFirst, steps[4].Selector.Ordinal.Kind)
	assert.Equal(t, Text("browser").First(), steps[5].Selector)
	assert.Equal(t, Exactly("Running the Example Test"), steps[6].Match)
	assert.Equal(t, 0, steps[7].Count)
	assert.Equal(t, Regex("Playwright"), steps[8].Match)
	assert.Equal(t, Glob("*intro*"), steps[9].Match)
	assert.Equal(t, RoleExact("link", "Community").Nth(1), steps[10].Selector)
	assert.Equal(t, StepExpectNoConsoleErrors, steps[11].Kind)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown key",
			doc:  "scenarios:\n  - name: x\n    steps:\n      - clik: {css: a}\n",
			want: "clik",
		},
		{
			name: "two actions",
			doc:  "scenarios:\n  - name: x\n    steps:\n      - navigate: https://a.dev/\n        press: Enter\n",
			want: "one action per step",
		},
		{
			name: "no action",
			doc:  "scenarios:\n  - name: x\n    steps:\n      - timeout: 1s\n",
			want: "no action",
		},
		{
			name: "text without matches",
			doc:  "scenarios:\n  - name: x\n    steps:\n      - expect_text: {css: p}\n",
			want: "needs matches",
		},
		{
			name: "bad timeout",
			doc:  "scenarios:\n  - name: x\n    timeout: soon\n    steps:\n      - navigate: https://a.dev/\n",
			want: "bad timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	t.Parallel()
	scenarios, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, scenarios)
}

func TestLoadDir_ReadsYAMLInNameOrder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("b.yml", "scenarios:\n  - name: second\n    site: forms\n    steps:\n      - navigate: https://www.selenium.dev/selenium/web/web-form.html\n")
	write("a.yaml", "scenarios:\n  - name: first\n    site: forms\n    steps:\n      - navigate: https://www.selenium.dev/selenium/web/web-form.html\n")
	write("notes.txt", "ignored")

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)
	assert.Equal(t, "first", scenarios[0].Name)
	assert.Equal(t, "second", scenarios[1].Name)
}

func TestLoadFile_ReportsPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scenarios: [\n"), 0o644))
	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}
