package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"

	"github.com/babelloop/babelloop/internal/errs"
)

const defaultPromptTemplate = "You are a professional translator. Translate the " +
	"user's text from %s to %s. Reply with the translation only, no commentary."

// openAIProvider translates via an OpenAI-compatible chat completion API.
type openAIProvider struct {
	name           string
	aiClient       openai.Client
	model          string
	promptTemplate string
}

func newOpenAIProvider(conf Config) (p *openAIProvider, err error) {
	openaiOpts := []option.RequestOption{}

	if conf.Token == "" {
		logrus.Warn("no API token configured, using empty")
	} else {
		openaiOpts = append(openaiOpts, option.WithAPIKey(conf.Token))
	}
	if conf.Endpoint != "" {
		openaiOpts = append(openaiOpts, option.WithBaseURL(conf.Endpoint))
	}

	if conf.Model == "" {
		err = errs.New(errs.KindConfig, "no openai model configured")
		return
	}

	p = new(openAIProvider)
	p.aiClient = openai.NewClient(openaiOpts...)
	p.model = conf.Model
	p.name = conf.name()
	p.promptTemplate = conf.PromptTemplate
	if p.promptTemplate == "" {
		p.promptTemplate = defaultPromptTemplate
	}

	logrus.Infof("initialized OpenAI provider with model: %s, api url: %s",
		p.model, conf.Endpoint)
	return
}

func (p *openAIProvider) Name() string {
	return p.name
}

func (p *openAIProvider) Translate(ctx context.Context, req Request) (string, error) {
	systemPrompt := fmt.Sprintf(p.promptTemplate,
		languageName(req.SourceLang), languageName(req.TargetLang))

	chatCompletion, err := p.aiClient.Chat.Completions.New(
		ctx,
		openai.ChatCompletionNewParams{
			Model: p.model,
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt),
				openai.UserMessage(req.Text),
			},
		},
	)

	if err != nil {
		return "", classifyOpenAIError(err)
	}

	if len(chatCompletion.Choices) == 0 {
		return "", errs.NoTranslation("no choice found in response")
	}
	text := strings.TrimSpace(chatCompletion.Choices[0].Message.Content)
	if text == "" {
		return "", errs.NoTranslation("empty completion content")
	}
	return text, nil
}

func classifyOpenAIError(err error) error {
	var apiErr = new(openai.Error)
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		switch apiErr.Response.StatusCode {
		case http.StatusTooManyRequests:
			return errs.RateLimited(parseRetryAfter(apiErr.Response.Header.Get("Retry-After")))
		case http.StatusUnauthorized, http.StatusForbidden:
			return errs.Blocked(fmt.Sprintf("request rejected by provider (HTTP %d)",
				apiErr.Response.StatusCode))
		default:
			return errs.HTTP(apiErr.Response.StatusCode, apiErr.Message)
		}
	}
	return errs.FromTransport(err, "openai provider")
}

// languageName widens the ISO codes the rest of the pipeline uses into names
// the model responds better to. Unknown codes pass through unchanged.
func languageName(code string) string {
	switch strings.ToLower(code) {
	case "en":
		return "English"
	case "ja":
		return "Japanese"
	default:
		return code
	}
}
