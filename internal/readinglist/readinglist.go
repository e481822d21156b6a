// Package readinglist manages the cross-device reading list: duplicate
// guarded adds, removal with rollback on failed persistence, and a
// single-slot undo buffer.
package readinglist

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"rssperso/internal/domain"
	"rssperso/internal/gist"
)

// Persister pushes the reading list to the remote document store,
// optionally bundling the staged feed state into the same write.
type Persister interface {
	SaveReadingList(
		ctx context.Context,
		items []domain.ReadListItem,
		description string,
		withState bool,
	) error
}

type Manager struct {
	mu          sync.Mutex
	items       []domain.ReadListItem
	lastRemoved *domain.ReadListItem
	store       Persister
	log         *slog.Logger
}

func NewManager(items []domain.ReadListItem, store Persister, log *slog.Logger) *Manager {
	return &Manager{
		items: slices.Clone(items),
		store: store,
		log:   log,
	}
}

// Add appends an item and persists the list. An item whose URL already
// appears past the first position is rejected as a duplicate without
// touching the store; when alsoClearFeed is set the staged feed state is
// saved in the same write.
func (m *Manager) Add(ctx context.Context, item domain.ReadListItem, alsoClearFeed bool) error {
	m.mu.Lock()

	if m.indexOf(item.URL) > 0 {
		m.mu.Unlock()

		m.log.WarnContext(ctx, "Duplicate reading list item",
			"url", item.URL,
			"title", item.Title)

		return nil
	}

	m.items = append(m.items, item)
	items := slices.Clone(m.items)
	m.mu.Unlock()

	if err := m.store.SaveReadingList(ctx, items,
		fmt.Sprintf("Add item %q", item.Title), alsoClearFeed); err != nil {
		m.log.ErrorContext(ctx, "Failed to save reading list",
			"error", err,
			"url", item.URL)

		return err
	}

	return nil
}

// Remove deletes the item matching by URL. When persistence fails the item
// is re-inserted at its original index so local state keeps matching the
// confirmed remote state; on success it is parked in the undo slot.
func (m *Manager) Remove(ctx context.Context, item domain.ReadListItem) error {
	m.mu.Lock()

	idx := m.indexOf(item.URL)
	if idx == -1 {
		m.mu.Unlock()

		return nil
	}

	removed := m.items[idx]
	m.items = slices.Delete(m.items, idx, idx+1)
	items := slices.Clone(m.items)
	m.mu.Unlock()

	if err := m.store.SaveReadingList(ctx, items,
		fmt.Sprintf("Removing %q from reading list", item.Title), false); err != nil {
		m.mu.Lock()
		m.items = slices.Insert(m.items, min(idx, len(m.items)), removed)
		m.mu.Unlock()

		m.log.ErrorContext(ctx, "Failed to remove reading list item",
			"error", err,
			"url", item.URL)

		return err
	}

	m.mu.Lock()
	m.lastRemoved = &removed
	m.mu.Unlock()

	return nil
}

// RestoreLast re-appends the last removed item; the undo slot is cleared
// only once the save succeeds.
func (m *Manager) RestoreLast(ctx context.Context) error {
	m.mu.Lock()

	if m.lastRemoved == nil {
		m.mu.Unlock()

		return nil
	}

	restored := *m.lastRemoved
	m.items = append(m.items, restored)
	items := slices.Clone(m.items)
	m.mu.Unlock()

	if err := m.store.SaveReadingList(ctx, items,
		fmt.Sprintf("Restoring item %q", restored.Title), false); err != nil {
		m.log.ErrorContext(ctx, "Failed to restore reading list item",
			"error", err,
			"url", restored.URL)

		return err
	}

	m.mu.Lock()
	m.lastRemoved = nil
	m.mu.Unlock()

	return nil
}

func (m *Manager) CouldBeRestored() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastRemoved != nil
}

// SortByDate reorders the in-memory list by publication date descending.
func (m *Manager) SortByDate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	gist.SortByDate(m.items)
}

// SortByFeed groups the in-memory list by feed id, newest first per feed.
func (m *Manager) SortByFeed() {
	m.mu.Lock()
	defer m.mu.Unlock()

	gist.SortByFeed(m.items)
}

func (m *Manager) Items() []domain.ReadListItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.items)
}

// Replace swaps the list wholesale, used when the document is reloaded
// after an out-of-band change.
func (m *Manager) Replace(items []domain.ReadListItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = slices.Clone(items)
}

// indexOf must be called with the mutex held.
func (m *Manager) indexOf(url string) int {
	return slices.IndexFunc(m.items, func(i domain.ReadListItem) bool {
		return i.URL == url
	})
}
