// Package pagination enumerates offset-paginated search results.
//
// Registry search APIs return a page of items plus the total number of
// matches. Collection stops when a page comes back shorter than requested,
// when the collected count reaches the reported total, or at a safety cap.
//
// Example usage:
//
//	config := pagination.DefaultConfig()
//	collector := pagination.NewCollector(searchPages, config)
//	names, err := collector.Collect(ctx)
//
// With MaxConcurrency > 1 the first page is fetched alone to learn the total,
// then the remaining offsets are spread across a worker pool and reassembled
// in offset order. Page errors return the items collected so far.
package pagination
