// Periscope - Remote Media Session Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/periscope

// Package library serves hierarchical browse pages through the bounded
// content cache. Pages are fetched once, served from memory until TTL or
// invalidation, and never self-refresh.
package library

import (
	"context"
	"time"

	"github.com/tomtom215/periscope/internal/cache"
	"github.com/tomtom215/periscope/internal/dispatch"
	"github.com/tomtom215/periscope/internal/logging"
	"github.com/tomtom215/periscope/internal/models"
	"github.com/tomtom215/periscope/internal/transport"
)

// Browser answers container browse requests, caching each page keyed by
// container, cursor and filter. Library change events flowing through
// the dispatcher keep the cache honest.
type Browser struct {
	client transport.Client
	pages  *cache.Cache
	ttl    time.Duration
}

// NewBrowser wires a Browser over the shared browse cache.
func NewBrowser(client transport.Client, pages *cache.Cache, ttl time.Duration) *Browser {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Browser{client: client, pages: pages, ttl: ttl}
}

// Browse returns one page of a container's children, from cache when the
// entry is fresh.
func (b *Browser) Browse(ctx context.Context, containerID, cursor string) (*models.LibraryPage, error) {
	key := cache.Key{ContainerID: containerID, Cursor: cursor}

	if v, ok := b.pages.Get(key); ok {
		if page, ok := v.(*models.LibraryPage); ok {
			return page, nil
		}
	}

	page, err := b.client.GetLibraryItems(ctx, containerID, cursor)
	if err != nil {
		return nil, err
	}

	b.pages.Put(key, page, b.ttl)
	return page, nil
}

// ItemCount reports the total child count of a container, fetching the
// first page if needed.
func (b *Browser) ItemCount(ctx context.Context, containerID string) (int, error) {
	page, err := b.Browse(ctx, containerID, "")
	if err != nil {
		return 0, err
	}
	return page.TotalCount, nil
}

// WatchChanges consumes debounced library change events and refreshes
// the first page of each affected container so summary observers see
// updated counts without a cold fetch. Blocks until ctx is cancelled or
// the dispatcher closes the subscription.
func (b *Browser) WatchChanges(ctx context.Context, d *dispatch.Dispatcher) {
	id, events := d.Subscribe(models.EventLibraryChanged)
	defer d.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Library == nil {
				continue
			}
			for _, containerID := range ev.Library.AffectedContainers() {
				refreshCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
				_, err := b.Browse(refreshCtx, containerID, "")
				cancel()
				if err != nil {
					logging.Warn().Err(err).Str("container_id", containerID).Msg("library refresh failed")
				}
			}
		}
	}
}
