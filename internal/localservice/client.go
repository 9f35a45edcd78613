// Package localservice supervises the offline translation daemon: it owns
// one child process handle, probes its health, spawns it on demand, and
// exposes the daemon's HTTP operations as typed calls.
package localservice

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/babelloop/babelloop/internal/daemon"
	"github.com/babelloop/babelloop/internal/errs"
	"github.com/babelloop/babelloop/internal/models"
)

const (
	DefaultBaseURL = "http://127.0.0.1:5055"

	healthPollInterval = 200 * time.Millisecond
)

// Environment overrides, resolved once at construction. Environment values
// take precedence over caller-supplied defaults.
const (
	EnvBaseURL   = "BABELLOOP_LOCAL_URL"
	EnvAutoStart = "BABELLOOP_LOCAL_AUTOSTART"
	EnvTimeout   = "BABELLOOP_LOCAL_TIMEOUT_SECONDS"
	EnvModelDir  = "BABELLOOP_LOCAL_MODEL_DIR"
	EnvCommand   = "BABELLOOP_LOCAL_COMMAND"
)

// Config is immutable per client instance.
type Config struct {
	BaseURL               string `yaml:"base_url"`
	TimeoutSeconds        int    `yaml:"timeout_seconds"`
	StartupTimeoutSeconds int    `yaml:"startup_timeout_seconds"`
	AutoStart             bool   `yaml:"auto_start"`
	ModelDir              string `yaml:"model_dir"`
	// Command spawns the daemon; empty means "babelloopd serve --listen
	// <addr>" resolved next to the current executable, then on PATH.
	Command []string `yaml:"command"`
}

func NewConfig() Config {
	return Config{
		BaseURL:               DefaultBaseURL,
		TimeoutSeconds:        5,
		StartupTimeoutSeconds: 8,
		AutoStart:             true,
	}
}

// resolveEnv applies environment overrides on top of the caller's config.
func resolveEnv(conf Config) Config {
	if v := os.Getenv(EnvBaseURL); v != "" {
		conf.BaseURL = v
	}
	if v := os.Getenv(EnvAutoStart); v != "" {
		s := strings.TrimSpace(v)
		conf.AutoStart = s != "0" && !strings.EqualFold(s, "false")
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			conf.TimeoutSeconds = n
		}
	}
	if v := os.Getenv(EnvModelDir); v != "" {
		conf.ModelDir = v
	}
	if v := os.Getenv(EnvCommand); v != "" {
		conf.Command = strings.Fields(v)
	}
	return conf
}

// State tracks the supervised child through its lifecycle.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateHealthy
	StateUnhealthy
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateHealthy:
		return "healthy"
	case StateUnhealthy:
		return "unhealthy"
	case StateCrashed:
		return "crashed"
	}
	return "unknown"
}

// Client talks to the daemon and owns its process handle for the life of
// the parent. Safe for concurrent use.
type Client struct {
	conf   Config
	http   *http.Client
	spawn  Spawner
	logger *logrus.Entry

	mu    sync.Mutex
	state State
	proc  Process
}

type Option func(*Client)

// WithHTTPClient substitutes the transport, for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSpawner substitutes the process launcher, for tests.
func WithSpawner(s Spawner) Option {
	return func(c *Client) { c.spawn = s }
}

func NewClient(conf Config, opts ...Option) *Client {
	resolved := resolveEnv(conf)
	c := &Client{
		conf:   resolved,
		spawn:  ExecSpawner{},
		logger: logrus.WithField("component", "localservice"),
		state:  StateNotStarted,
	}
	c.http = &http.Client{Timeout: time.Duration(resolved.TimeoutSeconds) * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Config() Config {
	return c.conf
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close kills the spawned child, if any. The daemon is otherwise owned for
// the life of the parent process.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc != nil && c.proc.Alive() {
		if err := c.proc.Kill(); err != nil {
			return err
		}
	}
	c.proc = nil
	c.state = StateNotStarted
	return nil
}

// EnsureRunning makes the daemon reachable or fails. A passing health probe
// returns immediately; otherwise, with auto-start enabled, the child is
// spawned (at most one: a live previously spawned process is never
// duplicated) and the health endpoint is polled until the startup deadline.
func (c *Client) EnsureRunning(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isHealthy(ctx) {
		c.state = StateHealthy
		return nil
	}
	if !c.conf.AutoStart {
		c.state = StateUnhealthy
		return errs.Connection("local provider is not running")
	}

	if c.proc == nil || !c.proc.Alive() {
		if c.proc != nil {
			c.logger.Warn("previously spawned local provider exited, respawning")
			c.state = StateCrashed
		}
		proc, err := c.startProcess()
		if err != nil {
			c.state = StateCrashed
			return errs.Wrap(errs.KindConfig, "failed to start local provider", err)
		}
		c.proc = proc
	}
	c.state = StateStarting

	deadline := time.Now().Add(time.Duration(c.conf.StartupTimeoutSeconds) * time.Second)
	for time.Now().Before(deadline) {
		if c.isHealthy(ctx) {
			c.state = StateHealthy
			return nil
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.KindCanceled, "canceled while waiting for local provider", ctx.Err())
		case <-time.After(healthPollInterval):
		}
	}
	c.state = StateUnhealthy
	return errs.Connection("local provider failed to start")
}

func (c *Client) isHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.conf.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) startProcess() (Process, error) {
	command := c.conf.Command
	if len(command) == 0 {
		command = defaultCommand(c.conf.BaseURL)
	}
	env := []string{"BABELLOOP_UNBUFFERED=1"}
	if c.conf.ModelDir != "" {
		env = append(env, EnvModelDir+"="+c.conf.ModelDir)
	}
	proc, err := c.spawn.Start(command, env)
	if err != nil {
		return nil, err
	}
	c.logger.Infof("local provider started: %s", strings.Join(command, " "))
	return proc, nil
}

// defaultCommand prefers a babelloopd sitting next to the current binary,
// falling back to PATH lookup.
func defaultCommand(baseURL string) []string {
	name := "babelloopd"
	if exe, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exe), name)
		if _, statErr := os.Stat(sibling); statErr == nil {
			name = sibling
		}
	}
	cmd := []string{name, "serve"}
	if addr := listenAddr(baseURL); addr != "" {
		cmd = append(cmd, "--listen", addr)
	}
	return cmd
}

func listenAddr(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

// Translate sends one request to the daemon. Empty text is a trivial
// success; an unsupported direction is a user error, never retried.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if !models.Supported(sourceLang, targetLang) {
		return "", errs.User("local provider supports only en<->ja")
	}
	if err := c.EnsureRunning(ctx); err != nil {
		return "", err
	}
	var res daemon.TranslationResult
	err := c.postJSON(ctx, "/translate", daemon.TranslationRequest{
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}, &res)
	if err != nil {
		return "", err
	}
	return res.TranslatedText, nil
}

func (c *Client) Backtranslate(ctx context.Context, text, sourceLang, intermediateLang, targetLang string) (daemon.BacktranslationResult, error) {
	var res daemon.BacktranslationResult
	if strings.TrimSpace(text) == "" {
		return res, nil
	}
	if err := c.EnsureRunning(ctx); err != nil {
		return res, err
	}
	payload := map[string]string{
		"text":              text,
		"source_lang":       sourceLang,
		"intermediate_lang": intermediateLang,
		"target_lang":       targetLang,
	}
	err := c.postJSON(ctx, "/backtranslate", payload, &res)
	return res, err
}

func (c *Client) ModelsStatus(ctx context.Context) (models.Status, error) {
	var res models.Status
	if err := c.EnsureRunning(ctx); err != nil {
		return res, err
	}
	err := c.getJSON(ctx, "/models", &res)
	return res, err
}

func (c *Client) ModelsVerify(ctx context.Context) (models.VerifyResult, error) {
	var res models.VerifyResult
	if err := c.EnsureRunning(ctx); err != nil {
		return res, err
	}
	err := c.postJSON(ctx, "/models/verify", struct{}{}, &res)
	return res, err
}

func (c *Client) ModelsRemove(ctx context.Context) (models.RemoveResult, error) {
	var res models.RemoveResult
	if err := c.EnsureRunning(ctx); err != nil {
		return res, err
	}
	err := c.postJSON(ctx, "/models/remove", struct{}{}, &res)
	return res, err
}

func (c *Client) ModelsInstall(ctx context.Context, req models.InstallRequest) (models.VerifyResult, error) {
	var res models.VerifyResult
	if err := c.EnsureRunning(ctx); err != nil {
		return res, err
	}
	err := c.postJSON(ctx, "/models/install", req, &res)
	return res, err
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.conf.BaseURL+path, nil)
	if err != nil {
		return errs.Wrap(errs.KindConfig, "invalid local provider request", err)
	}
	return c.do(req, dest)
}

func (c *Client) postJSON(ctx context.Context, path string, payload, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.KindConfig, "invalid local provider payload", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conf.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return errs.Wrap(errs.KindConfig, "invalid local provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.FromTransport(err, "local provider")
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.KindNetwork, "failed to read local provider response", err)
	}
	if resp.StatusCode >= 400 {
		return decodeErrorEnvelope(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errs.InvalidResponse("invalid JSON from local provider")
	}
	return nil
}

// decodeErrorEnvelope restores the daemon's typed error from the wire.
func decodeErrorEnvelope(statusCode int, body []byte) error {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != "" {
		return errs.Newf(errs.KindFromWire(env.Error.Code), "local provider: %s", env.Error.Message)
	}
	return errs.HTTP(statusCode, string(body))
}
