package outbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/operchat/echat/internal/api"
	"github.com/operchat/echat/internal/bus"
	"github.com/operchat/echat/internal/repo"
)

// sendDelay is how long the optimistic message sits alone in the thread
// before the network request goes out, so the user always sees their message
// appear instantly regardless of backend latency.
const sendDelay = 100 * time.Millisecond

// Dispatcher is the slice of the backend the sender needs.
type Dispatcher interface {
	SendMessage(ctx context.Context, req api.SendRequest) (*api.SendResult, error)
	UploadFile(ctx context.Context, filename string, r io.Reader) (string, error)
}

// Sender runs the optimistic send pipeline for the open conversation:
// insert a local copy with a client uid, then dispatch, then settle the
// copy's status from the outcome. The local insert always happens before
// the network call, so the thread reflects the send immediately and the
// realtime echo can deduplicate against it by uid.
type Sender struct {
	disp Dispatcher
	repo *repo.Repo
	b    *bus.Bus
	log  *zap.Logger

	delay time.Duration
	now   func() time.Time
}

// NewSender creates a send engine.
func NewSender(disp Dispatcher, r *repo.Repo, b *bus.Bus, log *zap.Logger) *Sender {
	return &Sender{
		disp:  disp,
		repo:  r,
		b:     b,
		log:   log.Named("outbox"),
		delay: sendDelay,
		now:   time.Now,
	}
}

// SendParams describes one outbound message for the open conversation.
type SendParams struct {
	Text        string
	MessengerID repo.Messenger
	FileURL     string
	ReplyToID   int
}

// Send dispatches a message to the open conversation's selected contact.
// An empty message (no text, no file) is a logged no-op. Application-level
// delivery failures surface on the optimistic message's status, not as a
// returned error; the error return covers local preconditions and transport.
func (s *Sender) Send(ctx context.Context, p SendParams) error {
	p.Text = strings.TrimSpace(p.Text)
	if p.Text == "" && p.FileURL == "" {
		s.log.Warn("ignoring empty message")
		return nil
	}

	// Chaport renders text and attachment as two separate messages, so a
	// combined send goes out as two requests with two optimistic entries.
	if p.MessengerID == repo.MessengerChaport && p.Text != "" && p.FileURL != "" {
		if err := s.Send(ctx, SendParams{Text: p.Text, MessengerID: p.MessengerID, ReplyToID: p.ReplyToID}); err != nil {
			return err
		}
		return s.Send(ctx, SendParams{MessengerID: p.MessengerID, FileURL: p.FileURL})
	}

	sel, ok := s.repo.ActiveSelection()
	if !ok {
		return fmt.Errorf("no open conversation")
	}
	address, err := s.resolveAddress(sel, p.MessengerID)
	if err != nil {
		s.log.Error("cannot send", zap.Error(err))
		return err
	}

	uid := s.newUID()
	s.repo.AddTempMessage(repo.Message{
		ClientMessageUID: uid,
		Status:           repo.StatusSending,
		Text:             p.Text,
		FileURL:          p.FileURL,
		MessengerID:      p.MessengerID,
		SenderContactID:  sel.ContactID,
		FromMe:           true,
		ReplyToID:        p.ReplyToID,
		Timestamp:        s.now(),
	})
	s.repo.ResetUnread(sel.Entity, sel.ID)

	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		s.repo.UpdateTempStatus(uid, repo.StatusError, "send cancelled")
		return ctx.Err()
	}

	res, err := s.disp.SendMessage(ctx, api.SendRequest{
		Phone:            address,
		Message:          p.Text,
		FileURL:          p.FileURL,
		MessengerID:      int(p.MessengerID),
		ContragentType:   sel.Entity.Contragent(),
		ContragentID:     sel.ID,
		ContactID:        sel.ContactID,
		ClientMessageUID: uid,
		ReplyMessageID:   p.ReplyToID,
	})
	if err != nil {
		s.repo.UpdateTempStatus(uid, repo.StatusError, err.Error())
		s.b.Emit("message.send_failed", uid)
		s.log.Warn("send failed", zap.String("uid", uid), zap.Error(err))
		return err
	}
	if res.Failed() {
		s.repo.UpdateTempStatus(uid, repo.StatusError, res.FailureDetail())
		s.b.Emit("message.send_failed", uid)
		s.log.Warn("backend rejected message",
			zap.String("uid", uid),
			zap.String("detail", res.FailureDetail()))
		return nil
	}

	s.repo.UpdateTempStatus(uid, repo.StatusSent, "")
	s.b.Emit("message.send_ack", uid)
	return nil
}

// SendFile uploads an attachment and sends it with an optional caption.
// An upload failure aborts before any optimistic entry is created.
func (s *Sender) SendFile(ctx context.Context, filename string, r io.Reader, caption string, messenger repo.Messenger, replyToID int) error {
	fileURL, err := s.disp.UploadFile(ctx, filename, r)
	if err != nil {
		s.log.Warn("file upload failed", zap.String("filename", filename), zap.Error(err))
		return err
	}
	return s.Send(ctx, SendParams{
		Text:        caption,
		MessengerID: messenger,
		FileURL:     fileURL,
		ReplyToID:   replyToID,
	})
}

// Resend retries a failed message under a fresh client uid. The failed
// optimistic entry is removed and a new send pipeline runs from scratch.
func (s *Sender) Resend(ctx context.Context, uid string) error {
	var failed *repo.Message
	for _, m := range s.repo.ActiveMessages() {
		if m.ClientMessageUID == uid {
			failed = &m
			break
		}
	}
	if failed == nil {
		return fmt.Errorf("no message with uid %s in the open conversation", uid)
	}
	if failed.Status != repo.StatusError {
		return fmt.Errorf("message %s is %s, only failed messages can be resent", uid, failed.Status)
	}

	s.repo.RemoveTempMessage(uid)
	return s.Send(ctx, SendParams{
		Text:        failed.Text,
		MessengerID: failed.MessengerID,
		FileURL:     failed.FileURL,
		ReplyToID:   failed.ReplyToID,
	})
}

// resolveAddress picks the wire address for the selected contact. Telegram
// falls back from phone to the telegram handle; the built-in chat channel
// needs no address at all.
func (s *Sender) resolveAddress(sel repo.Selection, messenger repo.Messenger) (string, error) {
	if !messenger.NeedsAddress() {
		return "", nil
	}

	active, ok := s.repo.Active()
	if !ok {
		return "", fmt.Errorf("no open conversation")
	}
	var contact *repo.Contact
	for i := range active.Contacts {
		if active.Contacts[i].ID == sel.ContactID {
			contact = &active.Contacts[i]
			break
		}
	}
	if contact == nil {
		return "", fmt.Errorf("contact %d not loaded for conversation %d", sel.ContactID, sel.ID)
	}

	address := contact.Phone
	if messenger == repo.MessengerTelegram && address == "" {
		address = contact.TelegramName
	}
	if address == "" {
		return "", fmt.Errorf("contact %d has no address for messenger %d", sel.ContactID, messenger)
	}
	return address, nil
}

func (s *Sender) newUID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("msg_%d_%s", s.now().UnixMilli(), suffix)
}
