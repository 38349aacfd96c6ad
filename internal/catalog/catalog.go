// Package catalog holds the built-in scenarios for the three target sites.
package catalog

import (
	"regexp"
	"time"

	"github.com/kuitang/scenario-suite/internal/scenario"
)

// Target site entry points.
const (
	DocsURL      = "https://playwright.dev/"
	ShopURL      = "https://www.saucedemo.com/"
	InventoryURL = "https://www.saucedemo.com/inventory.html"
	FormsURL     = "https://www.selenium.dev/selenium/web/web-form.html"
	ForumsURL    = "https://stackoverflow.com/questions/tagged/playwright"
)

// Saucedemo credentials published on its login page.
const (
	StandardUser  = "standard_user"
	LockedOutUser = "locked_out_user"
	ShopPassword  = "secret_sauce"
)

const (
	// InvalidLoginText is the wrong-password message without its final
	// period: saucedemo has served it both with and without one, so
	// shop-invalid-login matches it through invalidLoginPattern.
	InvalidLoginText = "Epic sadface: Username and password do not match any user in this service"
	LockedOutText    = "Epic sadface: Sorry, this user has been locked out."
)

var invalidLoginPattern = "^" + regexp.QuoteMeta(InvalidLoginText) + `\.?$`

// Docs selectors.
var (
	GetStarted    = scenario.Role("link", "Get started")
	SearchButton  = scenario.XPath(`//*[@id="__docusaurus"]/nav/div[1]/div[2]/div[2]/button/span[1]/span`)
	SearchInput   = scenario.CSS(`input[placeholder="Search docs"]`)
	SearchResults = scenario.CSS(`ul[role="listbox"], div[role="listbox"], p`).First()
	NavToggle     = scenario.XPath(`//*[@id="__docusaurus"]/nav/div[1]/div[2]/div[2]/button`)
	ForumsLink    = scenario.XPath(`//*[@id="__docusaurus"]/footer/div/div[1]/div[2]/ul/li[1]/a`)
	ExampleTestH2 = scenario.ID("running-the-example-test")
)

// Shop selectors.
var (
	Username    = scenario.Placeholder("Username")
	Password    = scenario.Placeholder("Password")
	LoginButton = scenario.ID("login-button")
	LoginError  = scenario.CSS(`[data-test="error"]`)
	CartBadge   = scenario.CSS(".shopping_cart_badge")
	PageTitle   = scenario.CSS(".title")
	Items       = scenario.CSS(".inventory_item")
	AddBackpack = scenario.ID("add-to-cart-sauce-labs-backpack")
	AddLight    = scenario.ID("add-to-cart-sauce-labs-bike-light")
	RmBackpack  = scenario.ID("remove-sauce-labs-backpack")
	MenuButton  = scenario.ID("react-burger-menu-btn")
	LogoutLink  = scenario.ID("logout_sidebar_link")
)

// Forms selectors.
var (
	TextInput    = scenario.ID("my-text-id")
	SubmitButton = scenario.CSS(`button[type="submit"]`)
	Message      = scenario.ID("message")
)

// All returns every built-in scenario.
func All() []scenario.Scenario {
	var out []scenario.Scenario
	out = append(out, Docs()...)
	out = append(out, Shop()...)
	out = append(out, Forms()...)
	return out
}

// Docs exercises the Playwright documentation site.
func Docs() []scenario.Scenario {
	docs := func(name string, tags []string, steps ...scenario.Step) scenario.Scenario {
		return scenario.Scenario{Name: name, Site: scenario.SiteDocs, Tags: tags, Steps: steps}
	}
	home := scenario.Navigate(DocsURL)
	smoke := []string{"smoke"}

	mobile := docs("docs-mobile-header", []string{"mobile"},
		home,
		scenario.SetViewport(375, 667),
		scenario.Click(NavToggle),
		scenario.ExpectVisible(scenario.CSS("header")),
	)
	mobile.Description = "Header stays visible at iPhone 6/7/8 size after opening the nav toggle."

	return []scenario.Scenario{
		docs("docs-has-title", smoke,
			home,
			scenario.ExpectTitle(scenario.Regex("Playwright")),
		),
		docs("docs-get-started-installation", smoke,
			home,
			scenario.Click(GetStarted),
			scenario.ExpectVisible(scenario.Role("heading", "Installation")),
		),
		docs("docs-get-started-introduction", nil,
			home,
			scenario.Click(GetStarted),
			scenario.ExpectVisible(scenario.Role("heading", "Introduction")),
		),
		docs("docs-html-report-link", nil,
			home.Within(60*time.Second),
			scenario.Click(GetStarted),
			scenario.Click(scenario.Text("How to open the HTML test report")),
			scenario.ExpectVisible(scenario.Role("heading", "HTML Test Reports")),
		),
		docs("docs-example-test-heading-by-id", nil,
			home,
			scenario.Click(GetStarted),
			scenario.ExpectVisible(ExampleTestH2),
			scenario.ExpectText(ExampleTestH2, scenario.Exactly("Running the Example Test")),
		),
		docs("docs-sidebar-links", []string{"navigation"},
			home,
			scenario.Click(GetStarted),
			scenario.ExpectURL(scenario.Glob("*intro*")),
			scenario.Click(scenario.RoleExact("link", "Writing tests")),
			scenario.ExpectURL(scenario.Glob("*writing-tests*")),
			scenario.Click(scenario.Role("link", "How to use test hooks")),
			scenario.ExpectURL(scenario.Glob("*writing-tests#using-test-hooks*")),
		),
		docs("docs-search-xpath", nil,
			home,
			scenario.Click(SearchButton),
			scenario.Fill(SearchInput, "browser"),
			scenario.Press("Enter"),
			scenario.WaitFor(SearchResults, scenario.StateVisible),
			scenario.ExpectVisible(scenario.Text("browser").First()),
		),
		mobile,
		docs("docs-community-forums-tab", []string{"navigation"},
			home,
			scenario.ExpectVisible(ForumsLink),
			scenario.ClickOpensPage(ForumsLink),
			scenario.ExpectURL(scenario.Exactly(ForumsURL)),
		),
		docs("docs-no-console-errors", smoke,
			home.UntilLoad(scenario.LoadLoad),
			scenario.ExpectNoConsoleErrors(),
		),
	}
}

func login(user, pass string) []scenario.Step {
	return []scenario.Step{
		scenario.Navigate(ShopURL),
		scenario.Fill(Username, user),
		scenario.Fill(Password, pass),
		scenario.Click(LoginButton),
	}
}

// Shop exercises the saucedemo store.
func Shop() []scenario.Scenario {
	shop := func(name string, tags []string, steps ...scenario.Step) scenario.Scenario {
		return scenario.Scenario{Name: name, Site: scenario.SiteShop, Tags: tags, Steps: steps}
	}
	then := func(prefix []scenario.Step, more ...scenario.Step) []scenario.Step {
		return append(prefix, more...)
	}
	standard := func() []scenario.Step { return login(StandardUser, ShopPassword) }

	return []scenario.Scenario{
		shop("shop-valid-login", []string{"smoke", "login"}, then(standard(),
			scenario.ExpectURL(scenario.Exactly(InventoryURL)),
		)...),
		shop("shop-invalid-login", []string{"login"}, then(login(StandardUser, "wrong_password"),
			scenario.ExpectVisible(LoginError),
			scenario.ExpectText(LoginError, scenario.Regex(invalidLoginPattern)),
			scenario.ExpectURL(scenario.Exactly(ShopURL)),
		)...),
		shop("shop-locked-out-user", []string{"login"}, then(login(LockedOutUser, ShopPassword),
			scenario.ExpectText(LoginError, scenario.Exactly(LockedOutText)),
		)...),
		shop("shop-cart-two-items", []string{"cart"}, then(standard(),
			scenario.Click(AddBackpack),
			scenario.Click(AddLight),
			scenario.ExpectText(CartBadge, scenario.Exactly("2")),
		)...),
		shop("shop-cart-add-remove", []string{"cart"}, then(standard(),
			scenario.Click(AddBackpack),
			scenario.ExpectText(CartBadge, scenario.Exactly("1")),
			scenario.Click(RmBackpack),
			scenario.ExpectHidden(CartBadge),
		)...),
		shop("shop-logout", []string{"login"}, then(standard(),
			scenario.Click(MenuButton),
			scenario.Click(LogoutLink),
			scenario.ExpectURL(scenario.Exactly(ShopURL)),
			scenario.ExpectVisible(LoginButton),
		)...),
		shop("shop-inventory-page", []string{"smoke"}, then(standard(),
			scenario.ExpectTitle(scenario.Exactly("Swag Labs")),
			scenario.ExpectText(PageTitle, scenario.Exactly("Products")),
			scenario.ExpectCount(Items, 6),
		)...),
	}
}

// Forms exercises the Selenium web form demo.
func Forms() []scenario.Scenario {
	forms := func(name string, tags []string, steps ...scenario.Step) scenario.Scenario {
		return scenario.Scenario{Name: name, Site: scenario.SiteForms, Tags: tags, Steps: steps}
	}
	open := scenario.Navigate(FormsURL)

	return []scenario.Scenario{
		forms("forms-title", []string{"smoke"},
			open,
			scenario.ExpectTitle(scenario.Exactly("Web form")),
		),
		forms("forms-submit", nil,
			open,
			scenario.Fill(TextInput, "scenario-suite"),
			scenario.Click(SubmitButton),
			scenario.ExpectVisible(scenario.RoleExact("heading", "Form submitted")),
			scenario.ExpectText(Message, scenario.Exactly("Received!")),
		),
		forms("forms-submitted-url", nil,
			open,
			scenario.Click(SubmitButton),
			scenario.ExpectURL(scenario.Glob("*submitted-form*")),
		),
	}
}
