package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/client"
	"github.com/Sternrassler/registry-stats/pkg/registry"
)

const (
	ghcrAPI        = "https://api.github.com"
	ghcrAPIVersion = "2022-11-28"
	ghcrMaxTags    = 10
)

type ghcrVersion struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	CreatedAt *time.Time `json:"created_at"`
	Metadata  struct {
		Container struct {
			Tags []string `json:"tags"`
		} `json:"container"`
	} `json:"metadata"`
}

// GHCRProvider reports version activity for GitHub container packages.
// GHCR exposes no pull counts, so Total is the number of versions and
// Week/Month count versions published in the last 7 and 30 days.
type GHCRProvider struct {
	client *client.Client
	api    settings
	now    func() time.Time
}

// NewGHCR creates the GHCR provider.
func NewGHCR(c *client.Client, opts ...Option) *GHCRProvider {
	return &GHCRProvider{client: c, api: resolve(ghcrAPI, "", opts), now: time.Now}
}

// Name implements registry.Provider.
func (p *GHCRProvider) Name() string { return GHCR }

// RateLimit implements registry.Provider.
func (p *GHCRProvider) RateLimit() *registry.RateLimit {
	return &registry.RateLimit{MaxRequests: 50, Window: time.Hour, AuthRaisesLimit: true}
}

// Stats expects "org/image". Subjects without an org are reported as not found.
func (p *GHCRProvider) Stats(ctx context.Context, subject string, opts registry.FetchOptions) (*registry.Record, error) {
	owner, name, ok := strings.Cut(subject, "/")
	if !ok || owner == "" || name == "" {
		return nil, nil
	}

	req := client.Get(fmt.Sprintf("%s/orgs/%s/packages/container/%s/versions?per_page=100",
		p.api.base, owner, url.PathEscape(name)))
	req.Header = http.Header{}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", ghcrAPIVersion)
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	var versions []ghcrVersion
	found, err := p.client.Do(ctx, GHCR, req, &versions)
	if err != nil || !found {
		return nil, err
	}

	now := p.now()
	var week, month int64
	var lastPublished *time.Time
	tags := []string{}
	for _, v := range versions {
		tags = append(tags, v.Metadata.Container.Tags...)
		if v.CreatedAt == nil {
			continue
		}
		age := now.Sub(*v.CreatedAt)
		if age <= 7*24*time.Hour {
			week++
		}
		if age <= 30*24*time.Hour {
			month++
		}
		if lastPublished == nil || v.CreatedAt.After(*lastPublished) {
			lastPublished = v.CreatedAt
		}
	}
	if len(tags) > ghcrMaxTags {
		tags = tags[:ghcrMaxTags]
	}

	extra := map[string]any{
		"metricType":   "versions",
		"tags":         tags,
		"versionCount": len(versions),
		"activity7d":   week,
		"activity30d":  month,
	}
	if lastPublished != nil {
		extra["lastPublished"] = lastPublished.UTC().Format(time.RFC3339)
	}

	return &registry.Record{
		Source:  GHCR,
		Subject: subject,
		Counts: registry.Counts{
			Total: registry.Int64(int64(len(versions))),
			Week:  registry.Int64(week),
			Month: registry.Int64(month),
		},
		Extra:     extra,
		FetchedAt: now.UTC(),
	}, nil
}
