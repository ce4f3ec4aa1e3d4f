package repo

import (
	"fmt"
	"time"
)

// EntityType identifies which kind of contragent a conversation belongs to.
type EntityType int

const (
	EntityLeads EntityType = iota
	EntityClients
	EntitySuppliers
)

// Entities lists all entity types, for iteration.
var Entities = []EntityType{EntityLeads, EntityClients, EntitySuppliers}

// String returns the plural API path segment ("leads", "clients", "suppliers").
func (e EntityType) String() string {
	switch e {
	case EntityLeads:
		return "leads"
	case EntityClients:
		return "clients"
	case EntitySuppliers:
		return "suppliers"
	}
	return fmt.Sprintf("EntityType(%d)", int(e))
}

// Contragent returns the singular backend term ("lead", "client", "supplier").
func (e EntityType) Contragent() string {
	switch e {
	case EntityLeads:
		return "lead"
	case EntityClients:
		return "client"
	case EntitySuppliers:
		return "supplier"
	}
	return fmt.Sprintf("EntityType(%d)", int(e))
}

// EntityFromContragent maps a backend contragent type string to an EntityType.
func EntityFromContragent(s string) (EntityType, error) {
	switch s {
	case "lead":
		return EntityLeads, nil
	case "client":
		return EntityClients, nil
	case "supplier":
		return EntitySuppliers, nil
	}
	return 0, fmt.Errorf("unknown contragent type %q", s)
}

// EntityFromString maps a plural entity path segment to an EntityType.
func EntityFromString(s string) (EntityType, error) {
	switch s {
	case "leads":
		return EntityLeads, nil
	case "clients":
		return EntityClients, nil
	case "suppliers":
		return EntitySuppliers, nil
	}
	return 0, fmt.Errorf("unknown entity type %q", s)
}

// Messenger identifies the outbound channel a message is sent through.
type Messenger int

const (
	MessengerTelegram Messenger = 1
	MessengerViber    Messenger = 2
	MessengerChaport  Messenger = 3
)

// NeedsAddress reports whether the messenger requires a phone/handle to send.
// The internal chat channel (Chaport) addresses by conversation alone.
func (m Messenger) NeedsAddress() bool {
	return m != MessengerChaport
}

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusError     MessageStatus = "error"
)

// Contact is one reachable identity inside a conversation. Contacts are owned
// by their conversation; the same person in two threads is two Contact values.
type Contact struct {
	ID           int
	FirstName    string
	LastName     string
	Avatar       string
	Phone        string
	TelegramName string
	ChaportID    string
	LastSeen     time.Time
}

// Message is a single chat message. Exactly one of {ID set} (confirmed) or
// {ClientMessageUID set without ID} (optimistic) holds for a logical message;
// reconciliation moves a message from the latter to having both.
type Message struct {
	ID               int
	ClientMessageUID string
	Status           MessageStatus
	StatusDetail     string
	Text             string
	FileURL          string
	MessengerID      Messenger
	SenderContactID  int
	FromMe           bool
	ReplyToID        int
	Timestamp        time.Time
}

// Confirmed reports whether the message has a server-assigned id.
func (m *Message) Confirmed() bool { return m.ID != 0 }

// Conversation is one lead/client/supplier thread. IDs are unique within an
// entity type only.
type Conversation struct {
	ID           int
	Entity       EntityType
	Name         string
	Avatar       string
	Contacts     []Contact
	Messages     []Message // newest-first
	UnreadCount  int
	DraftMessage string
	// Weak references: id lookups into Messages, never ownership.
	PinnedMessageID int
	ReplyMessageID  int
	LastActivity    time.Time
}

// PageMeta is server pagination metadata for one list.
type PageMeta struct {
	CurrentPage int
	LastPage    int
	Total       int
}

// HasMore reports whether a further page exists.
func (m PageMeta) HasMore() bool { return m.CurrentPage < m.LastPage }

// Filters parameterize one entity-type list fetch. Changing Search or
// AssignedUserID resets Page to 1 (enforced by the fetch controller).
type Filters struct {
	Page           int
	Search         string
	AssignedUserID int
}

// Selection identifies the currently open conversation.
type Selection struct {
	Entity    EntityType
	ID        int
	ContactID int
}

// PageMode selects replace-vs-append semantics for a page of results.
type PageMode int

const (
	PageReplace PageMode = iota
	PageAppend
)

// ModeForPage returns the page mode implied by a page number.
func ModeForPage(page int) PageMode {
	if page <= 1 {
		return PageReplace
	}
	return PageAppend
}
