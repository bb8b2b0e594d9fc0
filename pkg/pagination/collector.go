package pagination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds collector configuration.
type Config struct {
	// PageSize is the number of items requested per page.
	PageSize int

	// MaxConcurrency is the number of parallel page requests once the total
	// is known. 1 walks pages strictly one after another.
	MaxConcurrency int

	// Timeout per page fetch.
	Timeout time.Duration

	// MaxItems caps collection when a source misreports its total.
	MaxItems int
}

// DefaultConfig returns the configuration used for registry searches.
func DefaultConfig() Config {
	return Config{
		PageSize:       250,
		MaxConcurrency: 1,
		Timeout:        15 * time.Second,
		MaxItems:       10000,
	}
}

// PageFetcher fetches one page starting at offset. total is the number of
// matches the source reports, or 0 when unknown.
type PageFetcher interface {
	FetchPage(ctx context.Context, offset, size int) (items []string, total int, err error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, offset, size int) ([]string, int, error)

// FetchPage implements PageFetcher.
func (f PageFetcherFunc) FetchPage(ctx context.Context, offset, size int) ([]string, int, error) {
	return f(ctx, offset, size)
}

// pageResult represents the result of fetching a single page.
type pageResult struct {
	Offset int
	Items  []string
	Error  error
}

// Collector walks every page of a search.
type Collector struct {
	fetcher PageFetcher
	config  Config
	logger  zerolog.Logger
}

// NewCollector creates a new collector.
func NewCollector(fetcher PageFetcher, config Config) *Collector {
	defaults := DefaultConfig()
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxItems <= 0 {
		config.MaxItems = defaults.MaxItems
	}

	return &Collector{
		fetcher: fetcher,
		config:  config,
		logger:  log.With().Str("component", "pagination").Logger(),
	}
}

// WithLogger sets the collector's logger.
func (c *Collector) WithLogger(logger zerolog.Logger) *Collector {
	c.logger = logger
	return c
}

// Collect returns every item in page order. On a page error it returns the
// items collected before the failure together with the error.
func (c *Collector) Collect(ctx context.Context) ([]string, error) {
	start := time.Now()

	first, total, err := c.fetch(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}
	items := append([]string(nil), first...)

	if c.done(len(first), len(items), total) {
		c.logComplete(len(items), total, start)
		return items, nil
	}

	if c.config.MaxConcurrency > 1 && total > 0 {
		items, err = c.collectParallel(ctx, items, total)
	} else {
		items, err = c.collectSequential(ctx, items, total)
	}
	if err != nil {
		return items, err
	}

	c.logComplete(len(items), total, start)
	return items, nil
}

// done applies the stop rules after a page of n items.
func (c *Collector) done(n, collected, total int) bool {
	if n < c.config.PageSize {
		return true
	}
	if total > 0 && collected >= total {
		return true
	}
	return collected >= c.config.MaxItems
}

func (c *Collector) collectSequential(ctx context.Context, items []string, total int) ([]string, error) {
	for {
		offset := len(items)
		page, pageTotal, err := c.fetch(ctx, offset)
		if err != nil {
			return items, fmt.Errorf("fetch page at offset %d (partial data: %d items): %w", offset, len(items), err)
		}
		if pageTotal > 0 {
			total = pageTotal
		}
		items = append(items, page...)
		if c.done(len(page), len(items), total) {
			return items, nil
		}
	}
}

// collectParallel fetches the remaining offsets with a worker pool and
// reassembles them in order.
func (c *Collector) collectParallel(ctx context.Context, items []string, total int) ([]string, error) {
	limit := min(total, c.config.MaxItems)

	var offsets []int
	for offset := len(items); offset < limit; offset += c.config.PageSize {
		offsets = append(offsets, offset)
	}

	c.logger.Debug().
		Int("total", total).
		Int("pages", len(offsets)+1).
		Int("workers", c.config.MaxConcurrency).
		Msg("Starting parallel page fetch")

	queue := make(chan int, len(offsets))
	for _, offset := range offsets {
		queue <- offset
	}
	close(queue)

	results := make(chan pageResult, len(offsets))
	var wg sync.WaitGroup
	for i := 0; i < min(c.config.MaxConcurrency, len(offsets)); i++ {
		wg.Add(1)
		go c.worker(ctx, queue, results, &wg)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	pages := make(map[int][]string, len(offsets))
	var firstErr error
	errOffset := -1
	for result := range results {
		if result.Error != nil {
			if errOffset < 0 || result.Offset < errOffset {
				firstErr, errOffset = result.Error, result.Offset
			}
			continue
		}
		pages[result.Offset] = result.Items
	}

	sort.Ints(offsets)
	for _, offset := range offsets {
		if errOffset >= 0 && offset >= errOffset {
			break
		}
		page, ok := pages[offset]
		if !ok {
			break
		}
		items = append(items, page...)
		if len(page) < c.config.PageSize {
			break
		}
	}

	if firstErr != nil {
		c.logger.Warn().
			Err(firstErr).
			Int("collected", len(items)).
			Int("total", total).
			Msg("Page fetch failed - returning partial results")
		return items, fmt.Errorf("fetch page at offset %d (partial data: %d items): %w", errOffset, len(items), firstErr)
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// worker processes offsets from the queue.
func (c *Collector) worker(ctx context.Context, queue <-chan int, results chan<- pageResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for offset := range queue {
		if ctx.Err() != nil {
			results <- pageResult{Offset: offset, Error: ctx.Err()}
			continue
		}
		page, _, err := c.fetch(ctx, offset)
		results <- pageResult{Offset: offset, Items: page, Error: err}
	}
}

func (c *Collector) fetch(ctx context.Context, offset int) ([]string, int, error) {
	pageCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	return c.fetcher.FetchPage(pageCtx, offset, c.config.PageSize)
}

func (c *Collector) logComplete(n, total int, start time.Time) {
	c.logger.Info().
		Int("items", n).
		Int("total", total).
		Dur("duration", time.Since(start)).
		Msg("Pagination complete")
}
