// Package daemon implements the offline translation service that the
// supervisor spawns: a small HTTP surface over a pluggable inference
// backend plus the model manager.
package daemon

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/babelloop/babelloop/internal/errs"
	"github.com/babelloop/babelloop/internal/models"
)

type TranslationRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
	RequestID  string `json:"request_id,omitempty"`
}

type TranslationResult struct {
	TranslatedText string `json:"translated_text"`
	SourceLang     string `json:"source_lang"`
	TargetLang     string `json:"target_lang"`
	Backend        string `json:"backend"`
}

type BacktranslationResult struct {
	OriginalText     string `json:"original_text"`
	IntermediateText string `json:"intermediate_text"`
	FinalText        string `json:"final_text"`
	SourceLang       string `json:"source_lang"`
	IntermediateLang string `json:"intermediate_lang"`
	TargetLang       string `json:"target_lang"`
	Backend          string `json:"backend"`
}

// Backend performs the actual inference for one request.
type Backend interface {
	Name() string
	Translate(ctx context.Context, req TranslationRequest) (TranslationResult, error)
}

// FixtureBackend is the deterministic mode used by tests and CI: it echoes
// the text tagged with the direction.
type FixtureBackend struct{}

func (FixtureBackend) Name() string { return "fixture" }

func (b FixtureBackend) Translate(_ context.Context, req TranslationRequest) (TranslationResult, error) {
	return TranslationResult{
		TranslatedText: strings.TrimSpace(fmt.Sprintf("[%s->%s] %s", req.SourceLang, req.TargetLang, req.Text)),
		SourceLang:     req.SourceLang,
		TargetLang:     req.TargetLang,
		Backend:        b.Name(),
	}, nil
}

// UnavailableBackend reports its reason for every request. It keeps the
// HTTP surface alive while models are missing.
type UnavailableBackend struct {
	Reason string
}

func (UnavailableBackend) Name() string { return "unavailable" }

func (b UnavailableBackend) Translate(context.Context, TranslationRequest) (TranslationResult, error) {
	return TranslationResult{}, errs.ModelUnavailable(b.Reason)
}

// CommandBackend shells out to an external inference command for each
// request. The command receives the direction as flags and the text on
// stdin, and must print the translation to stdout. The model directory is
// exported through the environment.
type CommandBackend struct {
	Command  string
	ModelDir string
	Timeout  time.Duration
	logger   *logrus.Entry
}

func NewCommandBackend(command, modelDir string) *CommandBackend {
	return &CommandBackend{
		Command:  command,
		ModelDir: modelDir,
		Timeout:  60 * time.Second,
		logger:   logrus.WithField("backend", "command"),
	}
}

func (*CommandBackend) Name() string { return "command" }

func (b *CommandBackend) Translate(ctx context.Context, req TranslationRequest) (TranslationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, b.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, b.Command,
		"--source", req.SourceLang,
		"--target", req.TargetLang,
	)
	cmd.Env = append(os.Environ(), "BABELLOOP_MODEL_DIR="+b.ModelDir)
	cmd.Stdin = strings.NewReader(req.Text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		b.logger.Errorf("inference command failed: %v, stderr: %s", err, stderr.String())
		return TranslationResult{}, errs.Wrap(errs.KindServer, "local inference failed", err)
	}
	translated := strings.TrimSpace(stdout.String())
	if translated == "" {
		return TranslationResult{}, errs.InvalidResponse("local model returned empty translation")
	}
	return TranslationResult{
		TranslatedText: translated,
		SourceLang:     req.SourceLang,
		TargetLang:     req.TargetLang,
		Backend:        b.Name(),
	}, nil
}

// Health is the liveness snapshot served on /health.
type Health struct {
	Status  string        `json:"status"`
	Backend string        `json:"backend"`
	Pairs   [][]string    `json:"pairs"`
	Models  models.Status `json:"models"`
}

// Service glues a backend to the model manager.
type Service struct {
	backend Backend
	models  *models.Manager
	logger  *logrus.Entry
}

func NewService(backend Backend, manager *models.Manager) *Service {
	return &Service{
		backend: backend,
		models:  manager,
		logger:  logrus.WithField("component", "daemon"),
	}
}

// BuildOptions selects the backend at startup.
type BuildOptions struct {
	ModelDir string
	// Fixture forces the deterministic backend regardless of model state.
	Fixture bool
	// InferenceCommand, when set and models verify, enables the command
	// backend.
	InferenceCommand string
}

// Build constructs the service the way the daemon binary does: fixture when
// forced, the inference command when models are installed, otherwise the
// unavailable backend.
func Build(opts BuildOptions) *Service {
	manager := models.NewManager(opts.ModelDir)
	if opts.Fixture {
		return NewService(FixtureBackend{}, manager)
	}
	if manager.Verify().OK {
		if opts.InferenceCommand != "" {
			return NewService(NewCommandBackend(opts.InferenceCommand, opts.ModelDir), manager)
		}
		return NewService(UnavailableBackend{Reason: "no inference command configured"}, manager)
	}
	return NewService(UnavailableBackend{Reason: "local models not installed"}, manager)
}

func (s *Service) validate(req TranslationRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return errs.User("text is empty")
	}
	if !models.Supported(req.SourceLang, req.TargetLang) {
		return errs.User("unsupported language pair")
	}
	return nil
}

func (s *Service) Translate(ctx context.Context, req TranslationRequest) (TranslationResult, error) {
	if err := s.validate(req); err != nil {
		return TranslationResult{}, err
	}
	return s.backend.Translate(ctx, req)
}

func (s *Service) Backtranslate(ctx context.Context, text, sourceLang, intermediateLang, targetLang string) (BacktranslationResult, error) {
	first, err := s.Translate(ctx, TranslationRequest{
		Text: text, SourceLang: sourceLang, TargetLang: intermediateLang,
	})
	if err != nil {
		return BacktranslationResult{}, err
	}
	second, err := s.Translate(ctx, TranslationRequest{
		Text: first.TranslatedText, SourceLang: intermediateLang, TargetLang: targetLang,
	})
	if err != nil {
		return BacktranslationResult{}, err
	}
	return BacktranslationResult{
		OriginalText:     text,
		IntermediateText: first.TranslatedText,
		FinalText:        second.TranslatedText,
		SourceLang:       sourceLang,
		IntermediateLang: intermediateLang,
		TargetLang:       targetLang,
		Backend:          s.backend.Name(),
	}, nil
}

func (s *Service) Health() Health {
	pairs := [][]string{}
	for _, d := range models.SupportedDirections() {
		pairs = append(pairs, []string{d.Source, d.Target})
	}
	return Health{
		Status:  "ok",
		Backend: s.backend.Name(),
		Pairs:   pairs,
		Models:  s.models.Status(),
	}
}

func (s *Service) ModelsStatus() models.Status {
	return s.models.Status()
}

func (s *Service) ModelsVerify() models.VerifyResult {
	return s.models.Verify()
}

func (s *Service) ModelsRemove() models.RemoveResult {
	return s.models.Remove()
}

func (s *Service) ModelsInstall(ctx context.Context, req models.InstallRequest) (models.VerifyResult, error) {
	return s.models.Install(ctx, req)
}
