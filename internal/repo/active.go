package repo

import "slices"

// SetActive switches the open conversation. The previous active details and
// message list are discarded immediately; the returned key parameterizes the
// fetches that will fill the new selection, so late results from the old one
// can be recognized and dropped.
func (r *Repo) SetActive(sel Selection) ActiveKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activeGen++
	r.activeSel = sel
	r.activeMeta = PageMeta{}
	r.hasActive = true

	// Seed from the list entry when we have one, so the header renders
	// before the detail fetch lands. Messages always start empty.
	if c := findIn(r.lists[sel.Entity], sel.ID); c != nil {
		r.active = cloneConversation(c)
	} else {
		r.active = &Conversation{ID: sel.ID, Entity: sel.Entity}
	}
	r.active.Messages = nil

	r.emit("repo.active_changed", sel)
	return ActiveKey{sel: sel, gen: r.activeGen}
}

// ClearActive closes the open conversation.
func (r *Repo) ClearActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activeGen++
	r.active = nil
	r.hasActive = false
	r.activeSel = Selection{}
	r.activeMeta = PageMeta{}
	r.emit("repo.active_changed", Selection{})
}

// ActiveKey returns the key for the current selection, if any.
func (r *Repo) ActiveKey() (ActiveKey, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasActive {
		return ActiveKey{}, false
	}
	return ActiveKey{sel: r.activeSel, gen: r.activeGen}, true
}

// Matches reports whether the key still refers to the current selection.
func (r *Repo) Matches(key ActiveKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasActive && key.gen == r.activeGen
}

// Selection returns the key's selection.
func (k ActiveKey) Selection() Selection { return k.sel }

// Active returns a copy of the open conversation.
func (r *Repo) Active() (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasActive {
		return Conversation{}, false
	}
	return *cloneConversation(r.active), true
}

// ActiveSelection returns the current selection.
func (r *Repo) ActiveSelection() (Selection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeSel, r.hasActive
}

// ActiveMessagesMeta returns the pagination metadata of the active thread.
func (r *Repo) ActiveMessagesMeta() PageMeta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeMeta
}

// SetActiveDetails fills the open conversation's header fields from a detail
// fetch. The message list is owned by SetActiveMessages and left untouched.
// Discarded when the key is stale.
func (r *Repo) SetActiveDetails(conv Conversation, key ActiveKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasActive || key.gen != r.activeGen {
		return false
	}
	msgs := r.active.Messages
	draft := r.active.DraftMessage
	conv.Entity = r.activeSel.Entity
	r.active = cloneConversation(&conv)
	r.active.Messages = msgs
	if conv.DraftMessage == "" {
		r.active.DraftMessage = draft
	}
	r.emit("repo.active_updated", r.activeSel)
	return true
}

// SetActiveMessages applies one page of the active thread, newest-first.
// PageReplace swaps the whole list; PageAppend extends the older end.
// Messages already present (matched by id, or by client uid for optimistic
// entries) are updated in place rather than duplicated. Discarded when the
// key is stale.
func (r *Repo) SetActiveMessages(msgs []Message, meta PageMeta, mode PageMode, key ActiveKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasActive || key.gen != r.activeGen {
		return false
	}

	if mode == PageReplace {
		r.active.Messages = slices.Clone(msgs)
	} else {
		for i := range msgs {
			if idx := r.findActiveMessage(&msgs[i]); idx >= 0 {
				r.active.Messages[idx] = msgs[i]
				continue
			}
			r.active.Messages = append(r.active.Messages, msgs[i])
		}
	}
	r.activeMeta = meta
	r.emit("repo.messages_updated", r.activeSel)
	return true
}

// MergeActiveMessage reconciles one incoming message into the active thread.
// If an entry with the same client uid exists (the optimistic copy), or with
// the same server id (a refetch), it is replaced in place, keeping its
// position. Otherwise the message is prepended as the newest entry. Returns
// true when the message replaced an optimistic entry.
func (r *Repo) MergeActiveMessage(msg Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasActive {
		return false
	}

	idx := r.findActiveMessage(&msg)
	if idx >= 0 {
		promoted := !r.active.Messages[idx].Confirmed() && msg.Confirmed()
		r.active.Messages[idx] = msg
		r.emit("repo.messages_updated", r.activeSel)
		return promoted
	}

	r.active.Messages = slices.Insert(r.active.Messages, 0, msg)
	r.emit("repo.messages_updated", r.activeSel)
	return false
}

// AddTempMessage prepends an optimistic local message to the active thread.
// It must be called before the corresponding network send is issued.
func (r *Repo) AddTempMessage(msg Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasActive {
		return false
	}
	r.active.Messages = slices.Insert(r.active.Messages, 0, msg)
	r.emit("repo.messages_updated", r.activeSel)
	return true
}

// UpdateTempStatus transitions an optimistic message's delivery status by
// client uid. A message the realtime path has already confirmed is left
// alone, so send-acknowledgement and realtime reconciliation converge to the
// same state in either arrival order.
func (r *Repo) UpdateTempStatus(uid string, status MessageStatus, detail string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasActive {
		return false
	}
	for i := range r.active.Messages {
		m := &r.active.Messages[i]
		if m.ClientMessageUID != uid {
			continue
		}
		if m.Confirmed() {
			return false
		}
		m.Status = status
		m.StatusDetail = detail
		r.emit("repo.messages_updated", r.activeSel)
		return true
	}
	return false
}

// RemoveTempMessage deletes an unconfirmed message by client uid. Used when
// a failed send is retried under a fresh uid.
func (r *Repo) RemoveTempMessage(uid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasActive {
		return false
	}
	for i := range r.active.Messages {
		m := &r.active.Messages[i]
		if m.ClientMessageUID == uid && !m.Confirmed() {
			r.active.Messages = slices.Delete(r.active.Messages, i, i+1)
			r.emit("repo.messages_updated", r.activeSel)
			return true
		}
	}
	return false
}

// ActiveMessages returns a copy of the open thread, newest-first.
func (r *Repo) ActiveMessages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasActive {
		return nil
	}
	return slices.Clone(r.active.Messages)
}

// findActiveMessage matches by client uid first (ties an optimistic entry to
// its confirmed form), then by server id. Caller holds the lock.
func (r *Repo) findActiveMessage(msg *Message) int {
	if msg.ClientMessageUID != "" {
		for i := range r.active.Messages {
			if r.active.Messages[i].ClientMessageUID == msg.ClientMessageUID {
				return i
			}
		}
	}
	if msg.ID != 0 {
		for i := range r.active.Messages {
			if r.active.Messages[i].ID == msg.ID {
				return i
			}
		}
	}
	return -1
}
