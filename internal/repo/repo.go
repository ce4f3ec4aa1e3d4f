package repo

import (
	"slices"
	"sync"

	"github.com/operchat/echat/internal/bus"
)

// Repo is the in-memory conversation state shared by the fetch controller,
// the optimistic sender, and the realtime router. All mutation goes through
// its methods; each method is atomic under one mutex, which is the Go
// rendering of the source platform's single-threaded event loop. Change
// notifications are published on the bus so UI layers observe state
// explicitly instead of tracking mutations implicitly.
//
// Internal pointers never escape: every accessor returns copies.
type Repo struct {
	mu sync.Mutex
	b  *bus.Bus

	lists map[EntityType][]*Conversation
	meta  map[EntityType]PageMeta

	active     *Conversation
	activeSel  Selection
	activeGen  uint64
	activeMeta PageMeta
	hasActive  bool
}

// ConversationRef identifies a conversation in bus event payloads.
type ConversationRef struct {
	Entity EntityType
	ID     int
}

// ActiveKey is an opaque selection key. Fetches capture it when issued and
// present it back at completion; a stale key means the user has navigated
// away and the result must be discarded.
type ActiveKey struct {
	sel Selection
	gen uint64
}

// New creates an empty repository. The bus may be nil in tests.
func New(b *bus.Bus) *Repo {
	return &Repo{
		b:     b,
		lists: make(map[EntityType][]*Conversation),
		meta:  make(map[EntityType]PageMeta),
	}
}

func (r *Repo) emit(kind string, payload any) {
	if r.b != nil {
		r.b.Emit(kind, payload)
	}
}

// UpsertPage applies one page of list results. PageReplace clears the list
// and meta; PageAppend concatenates preserving existing order (server order
// wins, no client-side re-sort). Duplicate (entity, id) entries are merged
// last-write-wins on conflicting fields, except Messages and DraftMessage,
// which are locally managed and never overwritten by a list fetch.
func (r *Repo) UpsertPage(entity EntityType, convs []Conversation, meta PageMeta, mode PageMode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Conversation
	if mode == PageAppend {
		out = r.lists[entity]
	}

	prior := r.lists[entity]
	for i := range convs {
		incoming := convs[i]
		incoming.Entity = entity
		if existing := findIn(out, incoming.ID); existing != nil {
			mergeConversation(existing, &incoming)
			continue
		}
		c := cloneConversation(&incoming)
		// A replace still preserves locally owned state from the prior list.
		if mode == PageReplace {
			if old := findIn(prior, incoming.ID); old != nil {
				c.Messages = old.Messages
				c.DraftMessage = old.DraftMessage
			}
		}
		out = append(out, c)
	}

	r.lists[entity] = out
	r.meta[entity] = meta
	r.emit("repo.list_updated", entity.String())
}

// List returns a copy of the conversation list for an entity type.
func (r *Repo) List(entity EntityType) []Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Conversation, 0, len(r.lists[entity]))
	for _, c := range r.lists[entity] {
		out = append(out, *cloneConversation(c))
	}
	return out
}

// Meta returns the pagination metadata for an entity-type list.
func (r *Repo) Meta(entity EntityType) PageMeta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta[entity]
}

// Find returns a copy of the conversation with the given id, if present.
func (r *Repo) Find(entity EntityType, id int) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := findIn(r.lists[entity], id); c != nil {
		return *cloneConversation(c), true
	}
	return Conversation{}, false
}

// MoveToTop removes the conversation and reinserts it at index 0.
// No-op if absent or already first.
func (r *Repo) MoveToTop(entity EntityType, id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.lists[entity]
	idx := slices.IndexFunc(list, func(c *Conversation) bool { return c.ID == id })
	if idx < 0 {
		return false
	}
	if idx > 0 {
		c := list[idx]
		list = slices.Delete(list, idx, idx+1)
		r.lists[entity] = slices.Insert(list, 0, c)
	}
	r.emit("repo.list_updated", entity.String())
	return true
}

// InsertTop unshifts a conversation onto the head of its entity-type list.
// If a conversation with the same id already exists it is moved to top
// instead, so the no-duplicates invariant holds on every insertion path.
func (r *Repo) InsertTop(entity EntityType, conv Conversation) {
	r.mu.Lock()
	exists := findIn(r.lists[entity], conv.ID) != nil
	if !exists {
		conv.Entity = entity
		r.lists[entity] = slices.Insert(r.lists[entity], 0, cloneConversation(&conv))
		r.emit("repo.list_updated", entity.String())
	}
	r.mu.Unlock()
	if exists {
		r.MoveToTop(entity, conv.ID)
	}
}

// IncrementUnread bumps a conversation's unread counter.
func (r *Repo) IncrementUnread(entity EntityType, id, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := findIn(r.lists[entity], id); c != nil {
		c.UnreadCount += delta
		r.emit("repo.conversation_updated", ConversationRef{Entity: entity, ID: id})
	}
}

// ResetUnread sets the unread counter to zero. Callers invoke this only when
// the user is actively viewing the conversation.
func (r *Repo) ResetUnread(entity EntityType, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := findIn(r.lists[entity], id); c != nil {
		c.UnreadCount = 0
	}
	if r.hasActive && r.activeSel.Entity == entity && r.activeSel.ID == id {
		r.active.UnreadCount = 0
	}
	r.emit("repo.conversation_updated", ConversationRef{Entity: entity, ID: id})
}

// SetDraft stores the local-only draft text for a conversation.
func (r *Repo) SetDraft(entity EntityType, id int, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c := findIn(r.lists[entity], id); c != nil {
		c.DraftMessage = text
	}
	if r.hasActive && r.activeSel.Entity == entity && r.activeSel.ID == id {
		r.active.DraftMessage = text
	}
}

func findIn(list []*Conversation, id int) *Conversation {
	for _, c := range list {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// mergeConversation applies incoming fields onto existing, last-write-wins,
// except the locally managed Messages and DraftMessage.
func mergeConversation(existing, incoming *Conversation) {
	msgs := existing.Messages
	draft := existing.DraftMessage
	*existing = *cloneConversation(incoming)
	existing.Messages = msgs
	existing.DraftMessage = draft
}

func cloneConversation(c *Conversation) *Conversation {
	out := *c
	out.Contacts = slices.Clone(c.Contacts)
	out.Messages = slices.Clone(c.Messages)
	return &out
}
