package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the YAML document shape for scenarios kept outside the binary:
//
//	scenarios:
//	  - name: docs search
//	    site: docs
//	    tags: [smoke]
//	    steps:
//	      - navigate: https://playwright.dev/
//	      - click: {role: link, name: Get started}
//	      - expect_url: {glob: "*intro*"}
type File struct {
	Scenarios []fileScenario `yaml:"scenarios"`
}

type fileScenario struct {
	Name        string        `yaml:"name"`
	Site        string        `yaml:"site"`
	Description string        `yaml:"description"`
	Tags        []string      `yaml:"tags"`
	Viewport    *fileViewport `yaml:"viewport"`
	Timeout     string        `yaml:"timeout"`
	Steps       []fileStep    `yaml:"steps"`
}

type fileViewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type fileSelector struct {
	Role        string `yaml:"role"`
	Name        string `yaml:"name"`
	CSS         string `yaml:"css"`
	ID          string `yaml:"id"`
	Text        string `yaml:"text"`
	XPath       string `yaml:"xpath"`
	Placeholder string `yaml:"placeholder"`
	Exact       bool   `yaml:"exact"`
	First       bool   `yaml:"first"`
	Last        bool   `yaml:"last"`
	Nth         *int   `yaml:"nth"`
}

type fileMatch struct {
	Exact *string `yaml:"exact"`
	Regex string  `yaml:"regex"`
	Glob  string  `yaml:"glob"`
}

type fileStep struct {
	Navigate              string        `yaml:"navigate"`
	Click                 *fileSelector `yaml:"click"`
	Fill                  *fileSelector `yaml:"fill"`
	Press                 string        `yaml:"press"`
	SetViewport           *fileViewport `yaml:"set_viewport"`
	WaitFor               *fileSelector `yaml:"wait_for"`
	WaitForLoad           string        `yaml:"wait_for_load"`
	ClickOpensPage        *fileSelector `yaml:"click_opens_page"`
	ExpectTitle           *fileMatch    `yaml:"expect_title"`
	ExpectURL             *fileMatch    `yaml:"expect_url"`
	ExpectVisible         *fileSelector `yaml:"expect_visible"`
	ExpectHidden          *fileSelector `yaml:"expect_hidden"`
	ExpectText            *fileSelector `yaml:"expect_text"`
	ExpectCount           *fileSelector `yaml:"expect_count"`
	ExpectNoConsoleErrors bool          `yaml:"expect_no_console_errors"`

	Value     string     `yaml:"value"`
	State     string     `yaml:"state"`
	WaitUntil string     `yaml:"wait_until"`
	Matches   *fileMatch `yaml:"matches"`
	Count     *int       `yaml:"count"`
	Timeout   string     `yaml:"timeout"`
}

// Parse decodes scenarios from YAML. Unknown keys are rejected so typos
// fail loudly instead of silently skipping a step.
func Parse(r io.Reader) ([]Scenario, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode scenarios: %w", err)
	}
	out := make([]Scenario, 0, len(f.Scenarios))
	for i, fs := range f.Scenarios {
		sc, err := fs.toScenario()
		if err != nil {
			name := fs.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		out = append(out, sc)
	}
	return out, nil
}

// LoadFile reads one YAML scenario file.
func LoadFile(path string) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	scenarios, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenarios, nil
}

// LoadDir reads every *.yaml and *.yml file in dir, in name order.
func LoadDir(dir string) ([]Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var all []Scenario
	for _, name := range names {
		scenarios, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		all = append(all, scenarios...)
	}
	return all, nil
}

func (fs fileScenario) toScenario() (Scenario, error) {
	sc := Scenario{
		Name:        fs.Name,
		Site:        Site(fs.Site),
		Description: fs.Description,
		Tags:        fs.Tags,
	}
	if fs.Viewport != nil {
		sc.Viewport = &Viewport{Width: fs.Viewport.Width, Height: fs.Viewport.Height}
	}
	timeout, err := parseTimeout(fs.Timeout)
	if err != nil {
		return Scenario{}, err
	}
	sc.Timeout = timeout
	for i, fstep := range fs.Steps {
		step, err := fstep.toStep()
		if err != nil {
			return Scenario{}, fmt.Errorf("step %d: %w", i+1, err)
		}
		sc.Steps = append(sc.Steps, step)
	}
	return sc, nil
}

func (fs fileStep) toStep() (Step, error) {
	var steps []Step
	add := func(s Step) { steps = append(steps, s) }

	if fs.Navigate != "" {
		s := Navigate(fs.Navigate)
		if fs.WaitUntil != "" {
			s.Load = LoadState(fs.WaitUntil)
		}
		add(s)
	}
	if fs.Click != nil {
		add(Click(fs.Click.selector()))
	}
	if fs.Fill != nil {
		add(Fill(fs.Fill.selector(), fs.Value))
	}
	if fs.Press != "" {
		add(Press(fs.Press))
	}
	if fs.SetViewport != nil {
		add(SetViewport(fs.SetViewport.Width, fs.SetViewport.Height))
	}
	if fs.WaitFor != nil {
		state := StateVisible
		if fs.State != "" {
			state = ElementState(fs.State)
		}
		add(WaitFor(fs.WaitFor.selector(), state))
	}
	if fs.WaitForLoad != "" {
		add(WaitForLoad(LoadState(fs.WaitForLoad)))
	}
	if fs.ClickOpensPage != nil {
		add(ClickOpensPage(fs.ClickOpensPage.selector()))
	}
	if fs.ExpectTitle != nil {
		add(ExpectTitle(fs.ExpectTitle.match()))
	}
	if fs.ExpectURL != nil {
		add(ExpectURL(fs.ExpectURL.match()))
	}
	if fs.ExpectVisible != nil {
		add(ExpectVisible(fs.ExpectVisible.selector()))
	}
	if fs.ExpectHidden != nil {
		add(ExpectHidden(fs.ExpectHidden.selector()))
	}
	if fs.ExpectText != nil {
		if fs.Matches == nil {
			return Step{}, errors.New("expect_text needs matches")
		}
		add(ExpectText(fs.ExpectText.selector(), fs.Matches.match()))
	}
	if fs.ExpectCount != nil {
		if fs.Count == nil {
			return Step{}, errors.New("expect_count needs count")
		}
		add(ExpectCount(fs.ExpectCount.selector(), *fs.Count))
	}
	if fs.ExpectNoConsoleErrors {
		add(ExpectNoConsoleErrors())
	}

	switch len(steps) {
	case 0:
		return Step{}, errors.New("no action")
	case 1:
	default:
		kinds := make([]string, len(steps))
		for i, s := range steps {
			kinds[i] = string(s.Kind)
		}
		return Step{}, fmt.Errorf("one action per step, got %s", strings.Join(kinds, ", "))
	}

	timeout, err := parseTimeout(fs.Timeout)
	if err != nil {
		return Step{}, err
	}
	step := steps[0]
	step.Timeout = timeout
	return step, nil
}

func (fs fileSelector) selector() Selector {
	var s Selector
	switch {
	case fs.Role != "":
		s = Selector{Strategy: ByRole, Value: fs.Role, Name: fs.Name}
	case fs.CSS != "":
		s = CSS(fs.CSS)
	case fs.ID != "":
		s = ID(fs.ID)
	case fs.Text != "":
		s = Text(fs.Text)
	case fs.XPath != "":
		s = XPath(fs.XPath)
	case fs.Placeholder != "":
		s = Placeholder(fs.Placeholder)
	}
	s.Exact = fs.Exact
	switch {
	case fs.Nth != nil:
		s = s.Nth(*fs.Nth)
	case fs.First:
		s = s.First()
	case fs.Last:
		s = s.Last()
	}
	return s
}

func (fm fileMatch) match() Match {
	switch {
	case fm.Regex != "":
		return Regex(fm.Regex)
	case fm.Glob != "":
		return Glob(fm.Glob)
	case fm.Exact != nil:
		return Exactly(*fm.Exact)
	}
	return Match{}
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("bad timeout %q: %w", s, err)
	}
	return d, nil
}
