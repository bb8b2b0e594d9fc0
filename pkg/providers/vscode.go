package providers

import (
	"context"
	"time"

	"github.com/Sternrassler/registry-stats/pkg/client"
	"github.com/Sternrassler/registry-stats/pkg/registry"
)

const (
	vscodeAPI = "https://marketplace.visualstudio.com/_apis/public/gallery/extensionquery"

	// vscodeFilterName matches the extension's "publisher.name" identifier.
	vscodeFilterName = 7

	// vscodeIncludeStatistics is the query flag that returns install counts.
	vscodeIncludeStatistics = 0x100

	vscodeAccept = "application/json;api-version=3.0-preview.1"
)

type vscodeQuery struct {
	Filters []vscodeFilter `json:"filters"`
	Flags   int            `json:"flags"`
}

type vscodeFilter struct {
	Criteria []vscodeCriterion `json:"criteria"`
}

type vscodeCriterion struct {
	FilterType int    `json:"filterType"`
	Value      string `json:"value"`
}

type vscodeQueryResult struct {
	Results []struct {
		Extensions []struct {
			ExtensionName string `json:"extensionName"`
			DisplayName   string `json:"displayName"`
			Publisher     struct {
				PublisherName string `json:"publisherName"`
			} `json:"publisher"`
			Statistics []struct {
				StatisticName string  `json:"statisticName"`
				Value         float64 `json:"value"`
			} `json:"statistics"`
		} `json:"extensions"`
	} `json:"results"`
}

// vscodeExtra maps marketplace statistic names to Record.Extra keys.
var vscodeExtra = map[string]string{
	"averagerating":   "rating",
	"ratingcount":     "ratingCount",
	"trendingdaily":   "trendingDaily",
	"trendingweekly":  "trendingWeekly",
	"trendingmonthly": "trendingMonthly",
}

// VSCodeProvider reads install counts from the VS Code Marketplace.
type VSCodeProvider struct {
	client *client.Client
	api    settings
}

// NewVSCode creates the Marketplace provider.
func NewVSCode(c *client.Client, opts ...Option) *VSCodeProvider {
	return &VSCodeProvider{client: c, api: resolve(vscodeAPI, "", opts)}
}

// Name implements registry.Provider.
func (p *VSCodeProvider) Name() string { return VSCode }

// RateLimit implements registry.Provider.
func (p *VSCodeProvider) RateLimit() *registry.RateLimit { return nil }

// Stats queries one extension by its "publisher.name" identifier.
func (p *VSCodeProvider) Stats(ctx context.Context, subject string, _ registry.FetchOptions) (*registry.Record, error) {
	req, err := client.PostJSON(p.api.base, vscodeQuery{
		Filters: []vscodeFilter{{Criteria: []vscodeCriterion{{FilterType: vscodeFilterName, Value: subject}}}},
		Flags:   vscodeIncludeStatistics,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", vscodeAccept)

	var resp vscodeQueryResult
	found, err := p.client.Do(ctx, VSCode, req, &resp)
	if err != nil || !found {
		return nil, err
	}
	if len(resp.Results) == 0 || len(resp.Results[0].Extensions) == 0 {
		return nil, nil
	}
	ext := resp.Results[0].Extensions[0]

	record := &registry.Record{
		Source:    VSCode,
		Subject:   ext.Publisher.PublisherName + "." + ext.ExtensionName,
		Extra:     map[string]any{"displayName": ext.DisplayName},
		FetchedAt: time.Now().UTC(),
	}
	for _, stat := range ext.Statistics {
		if stat.StatisticName == "install" {
			record.Counts.Total = registry.Int64(int64(stat.Value))
			continue
		}
		if key, ok := vscodeExtra[stat.StatisticName]; ok {
			record.Extra[key] = stat.Value
		}
	}
	return record, nil
}
