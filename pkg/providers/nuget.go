package providers

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/client"
	"github.com/Sternrassler/registry-stats/pkg/registry"
)

const nugetSearch = "https://azuresearch-usnc.nuget.org/query"

type nugetSearchResult struct {
	Data []struct {
		ID             string `json:"id"`
		Version        string `json:"version"`
		TotalDownloads int64  `json:"totalDownloads"`
	} `json:"data"`
}

// NuGetProvider reads total downloads from the NuGet search service.
type NuGetProvider struct {
	client *client.Client
	api    settings
}

// NewNuGet creates the NuGet provider.
func NewNuGet(c *client.Client, opts ...Option) *NuGetProvider {
	return &NuGetProvider{client: c, api: resolve(nugetSearch, "", opts)}
}

// Name implements registry.Provider.
func (p *NuGetProvider) Name() string { return NuGet }

// RateLimit implements registry.Provider.
func (p *NuGetProvider) RateLimit() *registry.RateLimit { return nil }

// Stats looks the package id up with a case-insensitive exact match and
// reports it under its canonical casing.
func (p *NuGetProvider) Stats(ctx context.Context, subject string, _ registry.FetchOptions) (*registry.Record, error) {
	q := url.Values{}
	q.Set("q", "packageid:"+subject)
	q.Set("take", "1")

	var resp nugetSearchResult
	found, err := p.client.Do(ctx, NuGet, client.Get(p.api.base+"?"+q.Encode()), &resp)
	if err != nil || !found {
		return nil, err
	}

	for _, pkg := range resp.Data {
		if !strings.EqualFold(pkg.ID, subject) {
			continue
		}
		return &registry.Record{
			Source:    NuGet,
			Subject:   pkg.ID,
			Counts:    registry.Counts{Total: registry.Int64(pkg.TotalDownloads)},
			Extra:     map[string]any{"version": pkg.Version},
			FetchedAt: time.Now().UTC(),
		}, nil
	}
	return nil, nil
}
