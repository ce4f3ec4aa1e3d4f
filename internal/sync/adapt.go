package sync

import (
	"context"
	"strings"
	"time"

	"github.com/operchat/echat/internal/api"
	"github.com/operchat/echat/internal/repo"
)

// Backend is the slice of the communications API the sync engine needs,
// expressed in domain types. The production implementation wraps api.Client;
// tests substitute fakes.
type Backend interface {
	ListConversations(ctx context.Context, entity repo.EntityType, f repo.Filters) ([]repo.Conversation, repo.PageMeta, error)
	GetContactInfo(ctx context.Context, sel repo.Selection) (repo.Conversation, error)
	ListMessages(ctx context.Context, sel repo.Selection, page int) ([]repo.Message, repo.PageMeta, error)
	GetMessage(ctx context.Context, id int) (repo.Message, error)
}

type apiBackend struct {
	c *api.Client
}

// NewBackend adapts an api.Client to the Backend interface.
func NewBackend(c *api.Client) Backend {
	return &apiBackend{c: c}
}

func (b *apiBackend) ListConversations(ctx context.Context, entity repo.EntityType, f repo.Filters) ([]repo.Conversation, repo.PageMeta, error) {
	page, err := b.c.ListConversations(ctx, entity.String(), api.ListParams{
		Page:           f.Page,
		Search:         f.Search,
		AssignedUserID: f.AssignedUserID,
	})
	if err != nil {
		return nil, repo.PageMeta{}, err
	}
	convs := make([]repo.Conversation, 0, len(page.Data))
	for i := range page.Data {
		convs = append(convs, conversationFromWire(&page.Data[i], entity))
	}
	return convs, metaFromWire(page.Meta), nil
}

func (b *apiBackend) GetContactInfo(ctx context.Context, sel repo.Selection) (repo.Conversation, error) {
	conv, err := b.c.GetContactInfo(ctx, sel.Entity.String(), sel.ID, sel.ContactID)
	if err != nil {
		return repo.Conversation{}, err
	}
	return conversationFromWire(conv, sel.Entity), nil
}

func (b *apiBackend) ListMessages(ctx context.Context, sel repo.Selection, page int) ([]repo.Message, repo.PageMeta, error) {
	mp, err := b.c.ListMessages(ctx, sel.Entity.String(), sel.ID, sel.ContactID, page)
	if err != nil {
		return nil, repo.PageMeta{}, err
	}
	msgs := make([]repo.Message, 0, len(mp.Data))
	for i := range mp.Data {
		msgs = append(msgs, messageFromWire(&mp.Data[i]))
	}
	return msgs, metaFromWire(mp.Meta), nil
}

func (b *apiBackend) GetMessage(ctx context.Context, id int) (repo.Message, error) {
	msg, err := b.c.GetMessage(ctx, id)
	if err != nil {
		return repo.Message{}, err
	}
	return messageFromWire(msg), nil
}

func metaFromWire(m api.Meta) repo.PageMeta {
	return repo.PageMeta{CurrentPage: m.CurrentPage, LastPage: m.LastPage, Total: m.Total}
}

func conversationFromWire(c *api.Conversation, entity repo.EntityType) repo.Conversation {
	contacts := make([]repo.Contact, 0, len(c.Contacts))
	for i := range c.Contacts {
		contacts = append(contacts, contactFromWire(&c.Contacts[i]))
	}
	return repo.Conversation{
		ID:           c.ID,
		Entity:       entity,
		Name:         c.Name,
		Avatar:       c.Avatar,
		Contacts:     contacts,
		UnreadCount:  c.UnreadCount,
		LastActivity: parseTime(c.LastActivity),
	}
}

func contactFromWire(c *api.Contact) repo.Contact {
	first, last := splitFIO(c.FIO)
	return repo.Contact{
		ID:           c.ID,
		FirstName:    first,
		LastName:     last,
		Avatar:       c.Avatar,
		Phone:        c.Phone,
		TelegramName: c.TelegramName,
		ChaportID:    c.ChaportID,
		LastSeen:     parseTime(c.LastSeen),
	}
}

func messageFromWire(m *api.Message) repo.Message {
	status := repo.MessageStatus(m.Status)
	if m.Status == "" {
		status = repo.StatusSent
	}
	return repo.Message{
		ID:               m.ID,
		ClientMessageUID: m.ClientMessageUID,
		Status:           status,
		Text:             m.Text,
		FileURL:          m.FileURL,
		MessengerID:      repo.Messenger(m.MessengerID),
		SenderContactID:  m.ContactID,
		FromMe:           m.FromMe,
		ReplyToID:        m.ReplyMessageID,
		Timestamp:        parseTime(m.CreatedAt),
	}
}

// splitFIO splits a combined "Last First Patronymic" style name into first
// and last parts the way the server formats contact names.
func splitFIO(fio string) (first, last string) {
	fields := strings.Fields(fio)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
