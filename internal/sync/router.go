package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/operchat/echat/internal/bus"
	"github.com/operchat/echat/internal/repo"
)

// Router reconciles realtime new-message notifications into the repository.
// Notifications carry only ids; the router resolves them against the backend
// and routes the result by how much of the conversation is already local:
//
//   - open conversation: merge into the thread (deduplicating our own
//     optimistic copy by client uid), bump unread, move to top
//   - listed conversation: bump unread, move to top
//   - unknown conversation: fetch its header and insert at the top
//
// A router failure is logged and the notification dropped; the next fetch
// repairs any gap. The subscription must survive bad payloads.
type Router struct {
	be   Backend
	repo *repo.Repo
	b    *bus.Bus
	log  *zap.Logger
}

// NewRouter creates a reconciliation router.
func NewRouter(be Backend, r *repo.Repo, b *bus.Bus, log *zap.Logger) *Router {
	return &Router{be: be, repo: r, b: b, log: log.Named("router")}
}

// HandleNewMessage processes one new-message notification.
func (rt *Router) HandleNewMessage(ctx context.Context, sel repo.Selection, messageID int) {
	msg, err := rt.be.GetMessage(ctx, messageID)
	if err != nil {
		rt.log.Warn("dropping notification, message fetch failed",
			zap.Int("message_id", messageID),
			zap.Error(err))
		return
	}

	active, hasActive := rt.repo.ActiveSelection()
	if hasActive && active.Entity == sel.Entity && active.ID == sel.ID && active.ContactID == sel.ContactID {
		rt.handleActive(sel, msg)
		return
	}

	if _, ok := rt.repo.Find(sel.Entity, sel.ID); ok {
		rt.handleListed(sel, msg)
		return
	}

	rt.handleUnknown(ctx, sel)
}

func (rt *Router) handleActive(sel repo.Selection, msg repo.Message) {
	promoted := rt.repo.MergeActiveMessage(msg)
	if promoted || msg.FromMe {
		// Our own message echoed back; confirmed in place, nothing unread.
		rt.repo.MoveToTop(sel.Entity, sel.ID)
		return
	}
	// The unread counter is bumped even though the conversation is on
	// screen; the viewer resets it on their next interaction.
	rt.repo.IncrementUnread(sel.Entity, sel.ID, 1)
	rt.repo.MoveToTop(sel.Entity, sel.ID)
	rt.b.Emit("message.received", sel)
}

func (rt *Router) handleListed(sel repo.Selection, msg repo.Message) {
	if !msg.FromMe {
		rt.repo.IncrementUnread(sel.Entity, sel.ID, 1)
	}
	rt.repo.MoveToTop(sel.Entity, sel.ID)
	rt.b.Emit("message.received", sel)
}

func (rt *Router) handleUnknown(ctx context.Context, sel repo.Selection) {
	conv, err := rt.be.GetContactInfo(ctx, sel)
	if err != nil {
		rt.log.Warn("dropping notification, contact info fetch failed",
			zap.Stringer("entity", sel.Entity),
			zap.Int("id", sel.ID),
			zap.Int("contact_id", sel.ContactID),
			zap.Error(err))
		return
	}
	conv.UnreadCount = 1
	rt.repo.InsertTop(sel.Entity, conv)
	rt.b.Emit("message.received", sel)
}
