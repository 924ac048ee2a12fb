package pipeline

import (
	"github.com/feedmill/feedmill/internal/ingest"
	"github.com/feedmill/feedmill/internal/metrics"
)

// domainGroup holds the entries of one feed that share a hostname.
type domainGroup struct {
	Host    string
	Entries []ingest.Entry
}

// partitionByHost splits entries into per-host groups, preserving first-seen
// host order and the entries' relative order inside each group. Entries whose
// URL yields no hostname land in the shared "unknown" group.
func partitionByHost(entries []ingest.Entry) []domainGroup {
	index := make(map[string]int, len(entries))
	groups := make([]domainGroup, 0, len(entries))
	for _, entry := range entries {
		host := metrics.SanitizeHost(entry.URL)
		i, ok := index[host]
		if !ok {
			i = len(groups)
			index[host] = i
			groups = append(groups, domainGroup{Host: host})
		}
		groups[i].Entries = append(groups[i].Entries, entry)
	}
	return groups
}

// chunkFeeds cuts feeds into consecutive groups of at most size. Groups run
// one after another so the feed fan-out never exceeds size.
func chunkFeeds(feeds []ingest.Feed, size int) [][]ingest.Feed {
	if size <= 0 || size >= len(feeds) {
		if len(feeds) == 0 {
			return nil
		}
		return [][]ingest.Feed{feeds}
	}
	groups := make([][]ingest.Feed, 0, (len(feeds)+size-1)/size)
	for start := 0; start < len(feeds); start += size {
		end := start + size
		if end > len(feeds) {
			end = len(feeds)
		}
		groups = append(groups, feeds[start:end])
	}
	return groups
}
