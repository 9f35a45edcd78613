package provider

import (
	"context"

	"github.com/babelloop/babelloop/internal/localservice"
)

// localProvider delegates to the supervised local inference service. The
// client handles process lifecycle; translation errors already carry taxonomy
// kinds from the daemon's error envelope.
type localProvider struct {
	name   string
	client *localservice.Client
}

func newLocalProvider(conf Config, client *localservice.Client) *localProvider {
	return &localProvider{
		name:   conf.name(),
		client: client,
	}
}

func (p *localProvider) Name() string {
	return p.name
}

func (p *localProvider) Translate(ctx context.Context, req Request) (string, error) {
	return p.client.Translate(ctx, req.Text, req.SourceLang, req.TargetLang)
}
