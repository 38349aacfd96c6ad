package catalog

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/scenario-suite/internal/scenario"
)

func TestAll_Validates(t *testing.T) {
	t.Parallel()
	require.NoError(t, scenario.ValidateAll(All()))
}

func TestAll_SiteCounts(t *testing.T) {
	t.Parallel()

	counts := map[scenario.Site]int{}
	for _, sc := range All() {
		counts[sc.Site]++
	}
	assert.Equal(t, 10, counts[scenario.SiteDocs])
	assert.Equal(t, 7, counts[scenario.SiteShop])
	assert.Equal(t, 3, counts[scenario.SiteForms])
	assert.Len(t, All(), len(Docs())+len(Shop())+len(Forms()))
}

func TestAll_NavigatesOnlyToTargetHosts(t *testing.T) {
	t.Parallel()

	allowed := map[scenario.Site]string{
		scenario.SiteDocs:  "playwright.dev",
		scenario.SiteShop:  "www.saucedemo.com",
		scenario.SiteForms: "www.selenium.dev",
	}
	for _, sc := range All() {
		for i, st := range sc.Steps {
			if st.Kind != scenario.StepNavigate {
				continue
			}
			u, err := url.Parse(st.URL)
			require.NoError(t, err)
			assert.Equal(t, allowed[sc.Site], u.Host, "scenario %q step %d", sc.Name, i+1)
		}
	}
}

func TestAll_EveryScenarioAsserts(t *testing.T) {
	t.Parallel()

	for _, sc := range All() {
		found := false
		for _, st := range sc.Steps {
			if st.Kind.IsAssertion() {
				found = true
				break
			}
		}
		assert.True(t, found, "scenario %q has no assertion", sc.Name)
	}
}

func TestDocs_CoversNewPageFlow(t *testing.T) {
	t.Parallel()

	var opens []scenario.Scenario
	for _, sc := range Docs() {
		for _, st := range sc.Steps {
			if st.Kind == scenario.StepClickOpensPage {
				opens = append(opens, sc)
			}
		}
	}
	require.Len(t, opens, 1)
	last := opens[0].Steps[len(opens[0].Steps)-1]
	assert.Equal(t, scenario.StepExpectURL, last.Kind)
	assert.True(t, last.Match.Matches(ForumsURL))
}

func TestShop_InvalidLoginMessageTolerance(t *testing.T) {
	t.Parallel()

	var m scenario.Match
	for _, sc := range Shop() {
		if sc.Name != "shop-invalid-login" {
			continue
		}
		for _, st := range sc.Steps {
			if st.Kind == scenario.StepExpectText {
				m = st.Match
			}
		}
	}
	require.Equal(t, scenario.MatchRegex, m.Kind)
	assert.True(t, m.Matches(InvalidLoginText))
	assert.True(t, m.Matches(InvalidLoginText+"."))
	assert.False(t, m.Matches(LockedOutText))
	assert.False(t, m.Matches(InvalidLoginText+" again"))
}

func TestShop_StepsAreIndependent(t *testing.T) {
	t.Parallel()

	// Each scenario owns its step slice; editing one must not bleed into another.
	a := Shop()
	a[0].Steps[0].URL = "https://example.com/"
	b := Shop()
	assert.Equal(t, ShopURL, b[0].Steps[0].URL)
	assert.Equal(t, ShopURL, a[1].Steps[0].URL)
}

func TestDocs_MobileViewport(t *testing.T) {
	t.Parallel()

	for _, sc := range filterCatalog(t, "docs-mobile*") {
		require.Equal(t, scenario.StepSetViewport, sc.Steps[1].Kind)
		assert.Equal(t, scenario.Viewport{Width: 375, Height: 667}, sc.Steps[1].Viewport)
	}
}

func filterCatalog(t *testing.T, pattern string) []scenario.Scenario {
	t.Helper()
	out, err := scenario.Filter(All(), pattern, "")
	require.NoError(t, err)
	require.NotEmpty(t, out)
	return out
}
