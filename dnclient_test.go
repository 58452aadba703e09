package dnclient

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dynamicruntime/dnclient/internal/authtest"
	"github.com/dynamicruntime/dnclient/services"
)

func newTestClient(t *testing.T) (*Client, *authtest.Server) {
	t.Helper()
	backend := authtest.New()
	server := httptest.NewServer(backend.Handler())
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL, SiteID: "main"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client, backend
}

func TestNewShouldRequireBaseURL(t *testing.T) {
	if _, err := New(Config{}); err != ErrBaseURLRequired {
		t.Fatalf("New() error = %v, want ErrBaseURLRequired", err)
	}
}

func TestNewShouldSeedNavWithSiteID(t *testing.T) {
	client, _ := newTestClient(t)
	got := client.Nav.NavURL("/schema/dnType/list", nil)
	if got != "/schema/dnType/list?siteId=main" {
		t.Errorf("NavURL() = %q", got)
	}
}

// Requirement: a password login establishes a session whose cookie carries
// across later profile fetches, and logout ends it.
func TestClient_PasswordLoginSessionAndLogout(t *testing.T) {
	client, backend := newTestClient(t)
	backend.AddUser("walrus", "abc!23", "walrus@example.org")
	ctx := context.Background()

	loggedIn := false
	flow := client.NewLoginFlow(func() { loggedIn = true })
	flow.SetUsername("walrus")
	flow.SetPassword("abc!23")
	if err := flow.Submit(ctx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got := flow.Activity(); got != services.ActivityAfterLogin {
		t.Fatalf("Activity() = %q, progress %+v", got, flow.Progress())
	}
	if !loggedIn {
		t.Error("onLogin callback did not run")
	}

	// The session cookie from the login backs this fetch.
	if err := client.RefreshProfile(ctx); err != nil {
		t.Fatalf("RefreshProfile failed: %v", err)
	}
	p := client.Profiles.Current()
	if p.DisplayName() != "walrus" || p.RegistrationEmail() != "walrus@example.org" {
		t.Errorf("profile = %+v", p)
	}

	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if client.Profiles.IsLoggedIn() {
		t.Error("cache should be logged out after Logout")
	}
	if err := client.RefreshProfile(ctx); err != nil {
		t.Fatalf("RefreshProfile failed: %v", err)
	}
	if client.Profiles.IsLoggedIn() {
		t.Error("session should be over after Logout")
	}
}

// Requirement: an unrecognized browser falls over to code login, and the
// emailed code completes it.
func TestClient_UnrecognizedBrowserCodeLogin(t *testing.T) {
	client, backend := newTestClient(t)
	backend.AddUser("walrus", "abc!23", "walrus@example.org")
	backend.SetDeviceChecks(true)
	ctx := context.Background()

	flow := client.NewLoginFlow(nil)
	flow.SetUsername("walrus")
	flow.SetPassword("abc!23")
	if err := flow.Submit(ctx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got := flow.Activity(); got != services.ActivityLoginByCode {
		t.Fatalf("Activity() = %q, want loginByCode; progress %+v", got, flow.Progress())
	}
	if p := flow.Progress(); p.IsError || p.Message != "Login requires email validation." {
		t.Errorf("Progress() = %+v", p)
	}

	if err := flow.SendCode(ctx); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	code := backend.LastCode("walrus")
	if len(code) != 8 {
		t.Fatalf("issued code = %q, want eight characters", code)
	}
	flow.SetVerifyCode(code)
	if err := flow.Submit(ctx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got := flow.Activity(); got != services.ActivityAfterLogin {
		t.Fatalf("Activity() = %q, progress %+v", got, flow.Progress())
	}
}

// Requirement: registration runs email verification, account creation, and
// the login data step, ending logged in.
func TestClient_Registration(t *testing.T) {
	client, backend := newTestClient(t)
	ctx := context.Background()

	flow := client.NewLoginFlow(nil)
	if err := flow.SwitchTo(services.ActivityRegisterNewEmail); err != nil {
		t.Fatalf("SwitchTo failed: %v", err)
	}
	flow.SetContactAddress("new@example.org")
	if err := flow.SendCode(ctx); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	code := backend.LastCode("new@example.org")
	flow.SetVerifyCode(code)
	if err := flow.Submit(ctx); err != nil {
		t.Fatalf("createInitial submit failed: %v", err)
	}
	if got := flow.Activity(); got != services.ActivityLoginSetData {
		t.Fatalf("Activity() = %q, progress %+v", got, flow.Progress())
	}
	if flow.UserID() == "" {
		t.Fatal("UserID() should carry the created user id")
	}

	flow.SetUsername("new_user")
	flow.SetPassword("abc!23")
	flow.SetPasswordVerify("abc!23")
	flow.SetVerifyCode(code)
	if err := flow.Submit(ctx); err != nil {
		t.Fatalf("setLoginData submit failed: %v", err)
	}
	if got := flow.Activity(); got != services.ActivityAfterLogin {
		t.Fatalf("Activity() = %q, progress %+v", got, flow.Progress())
	}
	if got := client.Profiles.Username(); got != "new_user" {
		t.Errorf("cache username = %q", got)
	}
}

// Requirement: registering an already-taken address reports the address.
func TestClient_RegistrationTakenAddress(t *testing.T) {
	client, backend := newTestClient(t)
	backend.AddUser("walrus", "abc!23", "taken@example.org")
	ctx := context.Background()

	flow := client.NewLoginFlow(nil)
	if err := flow.SwitchTo(services.ActivityRegisterNewEmail); err != nil {
		t.Fatalf("SwitchTo failed: %v", err)
	}
	flow.SetContactAddress("taken@example.org")
	if err := flow.SendCode(ctx); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	flow.SetVerifyCode(backend.LastCode("taken@example.org"))
	if err := flow.Submit(ctx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	p := flow.Progress()
	if !p.IsError || p.Message != "Email taken@example.org is not available for creating a new user." {
		t.Errorf("Progress() = %+v", p)
	}
}

// Requirement: the forgot flow sets a replacement password that works for
// the next password login.
func TestClient_ForgotPassword(t *testing.T) {
	client, backend := newTestClient(t)
	backend.AddUser("walrus", "old!pw1", "walrus@example.org")
	ctx := context.Background()

	flow := client.NewLoginFlow(nil)
	if err := flow.SwitchTo(services.ActivityForgotPassword); err != nil {
		t.Fatalf("SwitchTo failed: %v", err)
	}
	flow.SetUsername("walrus")
	if err := flow.SendCode(ctx); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	flow.SetVerifyCode(backend.LastCode("walrus"))
	flow.SetPassword("new!pw2")
	flow.SetPasswordVerify("new!pw2")
	if err := flow.Submit(ctx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got := flow.Activity(); got != services.ActivityAfterLogin {
		t.Fatalf("Activity() = %q, progress %+v", got, flow.Progress())
	}
	if err := client.Logout(ctx); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	second := client.NewLoginFlow(nil)
	second.SetUsername("walrus")
	second.SetPassword("new!pw2")
	if err := second.Submit(ctx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if got := second.Activity(); got != services.ActivityAfterLogin {
		t.Fatalf("login with replacement password: activity %q, progress %+v",
			got, second.Progress())
	}
}

// Requirement: the health watcher discovers every node behind the balancer.
func TestClient_HealthWatcher(t *testing.T) {
	client, _ := newTestClient(t)

	watcher := client.NewHealthWatcher()
	watcher.SetInterval(5 * time.Millisecond)
	watcher.Start(context.Background())
	defer watcher.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(watcher.Nodes()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	nodes := watcher.Nodes()
	if len(nodes) != 2 || nodes[0].NodeID != "node-a" || nodes[1].NodeID != "node-b" {
		t.Fatalf("Nodes() = %+v", nodes)
	}
	if nodes[0].Uptime == "" || nodes[0].NodeStartTime == "" {
		t.Errorf("node payload incomplete: %+v", nodes[0])
	}
}

// Requirement: the endpoint form discovers a schema and executes the
// described request, keeping the raw response text.
func TestClient_EndpointForm(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	form := client.NewEndpointForm("health/info")
	if err := form.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	schema := form.Schema()
	if schema.EndpointName != "health/info" {
		t.Fatalf("Schema() = %+v", schema)
	}
	if err := form.SetValue("detail", "full"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}

	if err := form.Submit(ctx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if p := form.Progress(); p.IsError {
		t.Fatalf("Progress() = %+v", p)
	}
	if !strings.Contains(form.Response(), `"nodeId"`) {
		t.Errorf("Response() = %q", form.Response())
	}
}
