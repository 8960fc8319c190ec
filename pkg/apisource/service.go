// Package apisource fetches onboarded external API spec documents, caches
// them for the configured TTL, diffs each refresh against the last-seen
// document, and syncs the resulting created/updated/deleted entries into
// the memories table so agents can search them via pkg/search.
package apisource

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/agentbackend/pkg/jobqueue"
)

// Service implements jobqueue.APISourceRefresher.
type Service struct {
	store   *Store
	fetcher *Fetcher
}

// NewService builds a Service from store and a Fetcher configured with the
// desired cache TTL and domain allowlist.
func NewService(store *Store, fetcher *Fetcher) *Service {
	return &Service{store: store, fetcher: fetcher}
}

// Refresh re-fetches apiSourceID's spec document, diffs it against the
// last-seen one, syncs derived memories, and reports the diff counts.
func (s *Service) Refresh(ctx context.Context, apiSourceID string) (jobqueue.RefreshResult, error) {
	source, err := s.store.Load(ctx, apiSourceID)
	if err != nil {
		return jobqueue.RefreshResult{}, fmt.Errorf("load api source %s: %w", apiSourceID, err)
	}

	body, err := s.fetcher.Fetch(ctx, source)
	if err != nil {
		return jobqueue.RefreshResult{}, fmt.Errorf("fetch api source %s: %w", apiSourceID, err)
	}

	diff, entries, err := computeDiff(source.LastSpec, body)
	if err != nil {
		return jobqueue.RefreshResult{}, fmt.Errorf("diff api source %s: %w", apiSourceID, err)
	}

	rawEntries := make(map[string][]byte, len(entries))
	for key, raw := range entries {
		rawEntries[key] = []byte(raw)
	}

	if err := s.store.ApplyRefresh(ctx, source, body, rawEntries, diff); err != nil {
		return jobqueue.RefreshResult{}, fmt.Errorf("apply refresh for api source %s: %w", apiSourceID, err)
	}

	return jobqueue.RefreshResult{
		Created: len(diff.Created),
		Updated: len(diff.Updated),
		Deleted: len(diff.Deleted),
	}, nil
}

// DefaultCacheTTL is a five-minute fetch-cache TTL. NewFetcher does not
// apply it on its own; it uses whatever TTL its caller passes.
const DefaultCacheTTL = 5 * time.Minute
