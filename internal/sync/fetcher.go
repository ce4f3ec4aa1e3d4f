package sync

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/operchat/echat/internal/bus"
	"github.com/operchat/echat/internal/repo"
)

// Fetcher drives all list and message fetching against the backend. It owns
// the per-entity filters and the loading/error state clients render from:
// a fetch failure never propagates as a crash, it lands in the state and on
// the bus.
//
// Re-entrancy rule: a fetch for a target that is already loading is a silent
// no-op. This collapses repeated pull-to-refresh and scroll triggers into
// one in-flight request.
type Fetcher struct {
	be   Backend
	repo *repo.Repo
	b    *bus.Bus
	log  *zap.Logger

	mu          sync.Mutex
	listLoading map[repo.EntityType]bool
	listErr     map[repo.EntityType]string
	filters     map[repo.EntityType]repo.Filters

	msgLoading map[repo.ActiveKey]bool
	convErr    string
	msgErr     string
}

// NewFetcher creates a fetch controller.
func NewFetcher(be Backend, r *repo.Repo, b *bus.Bus, log *zap.Logger) *Fetcher {
	return &Fetcher{
		be:          be,
		repo:        r,
		b:           b,
		log:         log.Named("fetch"),
		listLoading: make(map[repo.EntityType]bool),
		listErr:     make(map[repo.EntityType]string),
		filters:     make(map[repo.EntityType]repo.Filters),
		msgLoading:  make(map[repo.ActiveKey]bool),
	}
}

// ListState is the fetch status of one entity-type list.
type ListState struct {
	Loading bool
	Err     string
	Filters repo.Filters
}

// ListState returns the fetch status for an entity type.
func (f *Fetcher) ListState(entity repo.EntityType) ListState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ListState{
		Loading: f.listLoading[entity],
		Err:     f.listErr[entity],
		Filters: f.filters[entity],
	}
}

// MessagesError returns the last message-fetch error for the open thread.
func (f *Fetcher) MessagesError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgErr
}

// ConversationError returns the last detail-fetch error for the open thread.
func (f *Fetcher) ConversationError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convErr
}

// FetchList loads page 1 of an entity-type list with the current filters,
// replacing the list. No-op while a fetch for that entity is in flight.
func (f *Fetcher) FetchList(ctx context.Context, entity repo.EntityType) error {
	f.mu.Lock()
	if f.listLoading[entity] {
		f.mu.Unlock()
		return nil
	}
	f.listLoading[entity] = true
	filters := f.filters[entity]
	filters.Page = 1
	f.filters[entity] = filters
	f.mu.Unlock()

	return f.fetchListPage(ctx, entity, filters, repo.PageReplace)
}

// LoadMore loads the next page of an entity-type list, appending. No-op when
// loading, or when the last known page has been reached.
func (f *Fetcher) LoadMore(ctx context.Context, entity repo.EntityType) error {
	meta := f.repo.Meta(entity)
	if !meta.HasMore() {
		return nil
	}

	f.mu.Lock()
	if f.listLoading[entity] {
		f.mu.Unlock()
		return nil
	}
	f.listLoading[entity] = true
	filters := f.filters[entity]
	filters.Page = meta.CurrentPage + 1
	f.filters[entity] = filters
	f.mu.Unlock()

	return f.fetchListPage(ctx, entity, filters, repo.PageAppend)
}

// fetchListPage runs the network call for one page. Caller has already set
// the loading flag.
func (f *Fetcher) fetchListPage(ctx context.Context, entity repo.EntityType, filters repo.Filters, mode repo.PageMode) error {
	convs, meta, err := f.be.ListConversations(ctx, entity, filters)

	f.mu.Lock()
	f.listLoading[entity] = false
	if err != nil {
		f.listErr[entity] = err.Error()
	} else {
		f.listErr[entity] = ""
	}
	f.mu.Unlock()

	if err != nil {
		f.log.Warn("list fetch failed",
			zap.Stringer("entity", entity),
			zap.Int("page", filters.Page),
			zap.Error(err))
		f.b.Emit("sync.list_error", entity.String())
		return err
	}

	f.repo.UpsertPage(entity, convs, meta, mode)
	return nil
}

// SetSearch updates the search filter for an entity type and refetches from
// page 1. An unchanged query is a no-op.
func (f *Fetcher) SetSearch(ctx context.Context, entity repo.EntityType, query string) error {
	f.mu.Lock()
	if f.filters[entity].Search == query {
		f.mu.Unlock()
		return nil
	}
	filters := f.filters[entity]
	filters.Search = query
	filters.Page = 1
	f.filters[entity] = filters
	f.mu.Unlock()

	return f.FetchList(ctx, entity)
}

// SetAssignedUser updates the responsible-manager filter for all entity
// types and refetches each from page 1.
func (f *Fetcher) SetAssignedUser(ctx context.Context, userID int) error {
	f.mu.Lock()
	for _, entity := range repo.Entities {
		filters := f.filters[entity]
		filters.AssignedUserID = userID
		filters.Page = 1
		f.filters[entity] = filters
	}
	f.mu.Unlock()

	var firstErr error
	for _, entity := range repo.Entities {
		if err := f.FetchList(ctx, entity); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Open switches the active conversation and loads its header and first page
// of messages. Results landing after another Open call are discarded.
func (f *Fetcher) Open(ctx context.Context, sel repo.Selection) error {
	key := f.repo.SetActive(sel)
	f.repo.ResetUnread(sel.Entity, sel.ID)

	if err := f.fetchDetails(ctx, key); err != nil {
		return err
	}
	return f.fetchMessagePage(ctx, key, 1, repo.PageReplace)
}

// RefreshActive refetches the open conversation's header and first message
// page without changing the selection.
func (f *Fetcher) RefreshActive(ctx context.Context) error {
	key, ok := f.repo.ActiveKey()
	if !ok {
		return nil
	}
	if err := f.fetchDetails(ctx, key); err != nil {
		return err
	}
	return f.fetchMessagePage(ctx, key, 1, repo.PageReplace)
}

// LoadMoreMessages loads the next (older) page of the open thread. No-op
// with no open conversation, while a page is already loading, or at the end
// of history.
func (f *Fetcher) LoadMoreMessages(ctx context.Context) error {
	key, ok := f.repo.ActiveKey()
	if !ok {
		return nil
	}
	meta := f.repo.ActiveMessagesMeta()
	if !meta.HasMore() {
		return nil
	}
	return f.fetchMessagePage(ctx, key, meta.CurrentPage+1, repo.PageAppend)
}

func (f *Fetcher) fetchDetails(ctx context.Context, key repo.ActiveKey) error {
	conv, err := f.be.GetContactInfo(ctx, key.Selection())

	f.mu.Lock()
	if err != nil {
		f.convErr = err.Error()
	} else {
		f.convErr = ""
	}
	f.mu.Unlock()

	if err != nil {
		f.log.Warn("conversation fetch failed",
			zap.Int("id", key.Selection().ID),
			zap.Error(err))
		f.b.Emit("sync.conversation_error", key.Selection())
		return err
	}

	f.repo.SetActiveDetails(conv, key)
	return nil
}

// fetchMessagePage loads one page of the open thread. The loading guard is
// keyed by selection, so switching conversations never leaves the new thread
// blocked behind the old one's in-flight page.
func (f *Fetcher) fetchMessagePage(ctx context.Context, key repo.ActiveKey, page int, mode repo.PageMode) error {
	f.mu.Lock()
	if f.msgLoading[key] {
		f.mu.Unlock()
		return nil
	}
	f.msgLoading[key] = true
	f.mu.Unlock()

	msgs, meta, err := f.be.ListMessages(ctx, key.Selection(), page)

	f.mu.Lock()
	delete(f.msgLoading, key)
	if err != nil {
		f.msgErr = err.Error()
	} else {
		f.msgErr = ""
	}
	f.mu.Unlock()

	if err != nil {
		f.log.Warn("message fetch failed",
			zap.Int("id", key.Selection().ID),
			zap.Int("page", page),
			zap.Error(err))
		f.b.Emit("sync.messages_error", key.Selection())
		return err
	}

	if !f.repo.SetActiveMessages(msgs, meta, mode, key) {
		f.log.Debug("discarded stale message page",
			zap.Int("id", key.Selection().ID),
			zap.Int("page", page))
	}
	return nil
}
