package providers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/client"
	"github.com/Sternrassler/registry-stats/pkg/registry"
)

const dockerAPI = "https://hub.docker.com/v2/repositories"

type dockerRepository struct {
	Name        string `json:"name"`
	Namespace   string `json:"namespace"`
	PullCount   int64  `json:"pull_count"`
	StarCount   int64  `json:"star_count"`
	LastUpdated string `json:"last_updated"`
}

// DockerProvider reads pull counts from Docker Hub.
type DockerProvider struct {
	client *client.Client
	api    settings
}

// NewDocker creates the Docker Hub provider.
func NewDocker(c *client.Client, opts ...Option) *DockerProvider {
	return &DockerProvider{client: c, api: resolve(dockerAPI, "", opts)}
}

// Name implements registry.Provider.
func (p *DockerProvider) Name() string { return Docker }

// RateLimit implements registry.Provider. Anonymous Hub API calls are
// limited to roughly one every four seconds.
func (p *DockerProvider) RateLimit() *registry.RateLimit {
	return &registry.RateLimit{MaxRequests: 15, Window: time.Minute, AuthRaisesLimit: true}
}

// Normalize implements registry.Normalizer: official images live in the
// implicit "library" namespace.
func (p *DockerProvider) Normalize(subject string) string {
	if strings.Contains(subject, "/") {
		return subject
	}
	return "library/" + subject
}

// Stats fetches one repository. opts.Token is sent as a bearer token.
func (p *DockerProvider) Stats(ctx context.Context, subject string, opts registry.FetchOptions) (*registry.Record, error) {
	req := client.Get(p.api.base + "/" + p.Normalize(subject))
	if opts.Token != "" {
		req.Header = http.Header{}
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	var repo dockerRepository
	found, err := p.client.Do(ctx, Docker, req, &repo)
	if err != nil || !found {
		return nil, err
	}

	return &registry.Record{
		Source:  Docker,
		Subject: repo.Namespace + "/" + repo.Name,
		Counts:  registry.Counts{Total: registry.Int64(repo.PullCount)},
		Extra: map[string]any{
			"stars":       repo.StarCount,
			"lastUpdated": repo.LastUpdated,
		},
		FetchedAt: time.Now().UTC(),
	}, nil
}
