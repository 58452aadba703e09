// Command dnportal exercises the portal client from a terminal: the login
// flows, the profile and login-source views, the node health poller, and the
// schema-driven endpoint form. With --demo it runs against an in-process
// backend so every flow can be walked without a deployed portal.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dynamicruntime/dnclient"
	"github.com/dynamicruntime/dnclient/internal/authtest"
	"github.com/dynamicruntime/dnclient/services"
)

const usage = `Usage: dnportal [flags] <command>

Commands:
  login     log in with a username and password
  register  create an account from an email address
  forgot    reset a password with an emailed code
  profile   show the current user's profile
  sources   show the login source history
  health    poll node health for a few refreshes
  endpoint  load an endpoint schema and execute a request
  logout    end the session

Flags:
`

type cliConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	SiteID         string `yaml:"siteId"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// loadConfig layers the yaml file, then .env, then process environment.
func loadConfig(path string) (cliConfig, error) {
	var cfg cliConfig
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}
	// A missing .env is fine; it is a local-development convenience.
	_ = godotenv.Load()
	if v := os.Getenv("DN_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("DN_SITE_ID"); v != "" {
		cfg.SiteID = v
	}
	return cfg, nil
}

// demoEnv is the in-process backend plus the account seeded into it.
type demoEnv struct {
	server   *authtest.Server
	baseURL  string
	username string
	password string
	shutdown func()
}

func startDemo() (*demoEnv, error) {
	srv := authtest.New()
	srv.AddUser("demo_user", "pass1!word", "demo@example.org")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	hs := &http.Server{Handler: srv.Handler()}
	go func() {
		if serveErr := hs.Serve(listener); serveErr != http.ErrServerClosed {
			log.Printf("demo backend: %v", serveErr)
		}
	}()
	return &demoEnv{
		server:   srv,
		baseURL:  "http://" + listener.Addr().String(),
		username: "demo_user",
		password: "pass1!word",
		shutdown: func() { _ = hs.Close() },
	}, nil
}

func main() {
	log.SetFlags(0)

	configPath := flag.String("config", "dnportal.yml", "path to the yaml config file")
	demo := flag.Bool("demo", false, "run against an in-process demo backend")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	var env *demoEnv
	if *demo {
		env, err = startDemo()
		if err != nil {
			log.Fatal(err)
		}
		defer env.shutdown()
		cfg.BaseURL = env.baseURL
		log.Printf("demo backend at %s (user %q, password %q)", env.baseURL, env.username, env.password)
	}
	if cfg.BaseURL == "" {
		log.Fatal("no base url; set baseUrl in the config file or DN_BASE_URL")
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	client, err := dnclient.New(dnclient.Config{
		BaseURL: cfg.BaseURL,
		SiteID:  cfg.SiteID,
		Timeout: timeout,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	app := &portalApp{client: client, env: env, in: bufio.NewReader(os.Stdin)}

	command := flag.Arg(0)
	args := flag.Args()[1:]
	switch command {
	case "login":
		err = app.login(ctx, args)
	case "register":
		err = app.register(ctx, args)
	case "forgot":
		err = app.forgot(ctx, args)
	case "profile":
		err = app.profile(ctx)
	case "sources":
		err = app.sources(ctx)
	case "health":
		err = app.health(ctx, args)
	case "endpoint":
		err = app.endpoint(ctx, args)
	case "logout":
		err = app.logout(ctx)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

type portalApp struct {
	client *dnclient.Client
	env    *demoEnv
	in     *bufio.Reader
}

func (a *portalApp) prompt(label string) (string, error) {
	fmt.Printf("%s: ", label)
	line, err := a.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// promptCode asks for the emailed verification code. In demo mode the code
// never reaches a mailbox, so it is read back from the backend and shown.
func (a *portalApp) promptCode(principal string) (string, error) {
	if a.env != nil {
		if code := a.env.server.LastCode(principal); code != "" {
			fmt.Printf("demo verification code: %s\n", code)
		}
	}
	return a.prompt("verification code")
}

func reportProgress(p dnclient.Progress) {
	if p.Message == "" {
		return
	}
	if p.IsError {
		log.Printf("error: %s", p.Message)
		return
	}
	log.Print(p.Message)
}

func (a *portalApp) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	username := fs.String("user", "", "username")
	password := fs.String("pass", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	flow := a.client.NewLoginFlow(func() { log.Print("session established") })
	if *username == "" {
		v, err := a.prompt("username")
		if err != nil {
			return err
		}
		*username = v
	}
	if *password == "" {
		v, err := a.prompt("password")
		if err != nil {
			return err
		}
		*password = v
	}
	flow.SetUsername(*username)
	flow.SetPassword(*password)
	if err := flow.Submit(ctx); err != nil {
		return err
	}
	reportProgress(flow.Progress())

	// An unrecognized browser drops the flow into code login.
	if flow.Activity() == services.ActivityLoginByCode {
		if err := flow.SendCode(ctx); err != nil {
			return err
		}
		reportProgress(flow.Progress())
		code, err := a.promptCode(*username)
		if err != nil {
			return err
		}
		flow.SetVerifyCode(code)
		if err := flow.Submit(ctx); err != nil {
			return err
		}
		reportProgress(flow.Progress())
	}
	if flow.Activity() != services.ActivityAfterLogin {
		return fmt.Errorf("login did not complete")
	}
	return a.profile(ctx)
}

func (a *portalApp) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	email := fs.String("email", "", "registration email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	flow := a.client.NewLoginFlow(nil)
	if err := flow.SwitchTo(services.ActivityRegisterNewEmail); err != nil {
		return err
	}
	if *email == "" {
		v, err := a.prompt("email")
		if err != nil {
			return err
		}
		*email = v
	}
	flow.SetContactAddress(*email)
	if err := flow.SendCode(ctx); err != nil {
		return err
	}
	reportProgress(flow.Progress())

	code, err := a.promptCode(*email)
	if err != nil {
		return err
	}
	flow.SetVerifyCode(code)
	if err := flow.Submit(ctx); err != nil {
		return err
	}
	reportProgress(flow.Progress())
	if flow.Activity() != services.ActivityLoginSetData {
		return fmt.Errorf("registration did not reach the login data step")
	}

	username, err := a.prompt("choose a username")
	if err != nil {
		return err
	}
	password, err := a.prompt("choose a password")
	if err != nil {
		return err
	}
	flow.SetUsername(username)
	flow.SetPassword(password)
	flow.SetPasswordVerify(password)
	flow.SetVerifyCode(code)
	if err := flow.Submit(ctx); err != nil {
		return err
	}
	reportProgress(flow.Progress())
	if flow.Activity() != services.ActivityAfterLogin {
		return fmt.Errorf("registration did not complete")
	}
	return a.profile(ctx)
}

func (a *portalApp) forgot(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("forgot", flag.ExitOnError)
	username := fs.String("user", "", "username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	flow := a.client.NewLoginFlow(nil)
	if err := flow.SwitchTo(services.ActivityForgotPassword); err != nil {
		return err
	}
	if *username == "" {
		v, err := a.prompt("username")
		if err != nil {
			return err
		}
		*username = v
	}
	flow.SetUsername(*username)
	if err := flow.SendCode(ctx); err != nil {
		return err
	}
	reportProgress(flow.Progress())

	code, err := a.promptCode(*username)
	if err != nil {
		return err
	}
	password, err := a.prompt("new password")
	if err != nil {
		return err
	}
	flow.SetVerifyCode(code)
	flow.SetPassword(password)
	flow.SetPasswordVerify(password)
	if err := flow.Submit(ctx); err != nil {
		return err
	}
	reportProgress(flow.Progress())
	if flow.Activity() != services.ActivityAfterLogin {
		return fmt.Errorf("password reset did not complete")
	}
	return nil
}

func (a *portalApp) profile(ctx context.Context) error {
	if err := a.client.RefreshProfile(ctx); err != nil {
		return err
	}
	if !a.client.Profiles.IsLoggedIn() {
		log.Print("not logged in")
		return nil
	}
	p := a.client.Profiles.Current()
	fmt.Printf("user:  %s\n", p.DisplayName())
	fmt.Printf("id:    %s\n", p.UserID)
	fmt.Printf("email: %s\n", p.RegistrationEmail())
	return nil
}

func (a *portalApp) sources(ctx context.Context) error {
	if err := a.client.RefreshProfile(ctx); err != nil {
		return err
	}
	p := a.client.Profiles.Current()
	groups := dnclient.ExtractSources(p.UserProfileData.LoginSources)
	if len(groups) == 0 {
		log.Print("no recorded login sources")
		return nil
	}
	for _, g := range groups {
		fmt.Printf("%s (%s)\n", g.IP, g.GeoLocation)
		for _, m := range g.Machines {
			fmt.Printf("  %s\n", m.Describe())
		}
	}
	return nil
}

func (a *portalApp) health(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	refreshes := fs.Int("refreshes", 3, "refreshes to wait for before reporting")
	interval := fs.Duration("interval", 500*time.Millisecond, "polling interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	watcher := a.client.NewHealthWatcher()
	watcher.SetInterval(*interval)
	watcher.Start(ctx)
	defer watcher.Close()

	deadline := time.Now().Add(time.Duration(2*(*refreshes+2)) * *interval)
	for watcher.RefreshCount() < *refreshes && watcher.Refreshing() && time.Now().Before(deadline) {
		time.Sleep(*interval / 2)
	}
	if msg := watcher.Message(); msg != "" {
		log.Printf("health: %s", msg)
	}
	fmt.Printf("refreshes: %s\n", watcher.RefreshLabel())
	for _, n := range watcher.Nodes() {
		fmt.Printf("%s  started %s  up %s\n",
			n.NodeID, services.FormatNodeTime(n.NodeStartTime), n.Uptime)
	}
	return nil
}

func (a *portalApp) endpoint(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("endpoint", flag.ExitOnError)
	name := fs.String("name", "", "endpoint name, e.g. health/info")
	var sets multiFlag
	fs.Var(&sets, "set", "field value as name=value; repeatable")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("endpoint: -name is required")
	}
	form := a.client.NewEndpointForm(*name)
	if err := form.Load(ctx); err != nil {
		return err
	}
	schema := form.Schema()
	fmt.Printf("%s %s: %s\n", schema.HTTPMethod, schema.EndpointName, schema.Description)
	for _, kv := range sets {
		field, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("endpoint: -set wants name=value, got %q", kv)
		}
		if err := form.SetValue(field, value); err != nil {
			return err
		}
	}
	if schema.HTTPMethod == http.MethodGet {
		fmt.Printf("request: %s\n", form.PreviewURL())
	} else if body := form.PreviewBody(); body != "" {
		fmt.Printf("request body:\n%s\n", body)
	}
	if err := form.Submit(ctx); err != nil {
		return err
	}
	if p := form.Progress(); p.IsError {
		return fmt.Errorf("endpoint: %s", p.Message)
	}
	fmt.Println(form.Response())
	return nil
}

func (a *portalApp) logout(ctx context.Context) error {
	if err := a.client.Logout(ctx); err != nil {
		return err
	}
	log.Print("logged out")
	return nil
}

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string     { return strings.Join(*m, ",") }
func (m *multiFlag) Set(v string) error { *m = append(*m, v); return nil }
