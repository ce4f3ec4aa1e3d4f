package api

// Wire types for the communications backend. Field names follow the server's
// JSON exactly; conversion to domain types happens in the sync package.

// Meta is the server's pagination envelope.
type Meta struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	Total       int `json:"total"`
}

// Contact is one reachable contact of a contragent.
type Contact struct {
	ID           int    `json:"id"`
	FIO          string `json:"fio"`
	Avatar       string `json:"avatar"`
	Phone        string `json:"phone"`
	TelegramName string `json:"tg_name"`
	ChaportID    string `json:"chaport_id"`
	LastSeen     string `json:"last_seen"`
}

// Conversation is one contragent thread as returned by the list and
// contact-info endpoints.
type Conversation struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Avatar       string    `json:"avatar"`
	UnreadCount  int       `json:"unread_count"`
	LastActivity string    `json:"last_activity"`
	Contacts     []Contact `json:"contacts"`
}

// Message is one chat message on the wire.
type Message struct {
	ID               int    `json:"id"`
	ClientMessageUID string `json:"client_message_uid"`
	Text             string `json:"message"`
	FileURL          string `json:"file_url"`
	MessengerID      int    `json:"messenger_id"`
	ContactID        int    `json:"contragent_contact_id"`
	FromMe           bool   `json:"from_me"`
	Status           string `json:"status"`
	ReplyMessageID   int    `json:"reply_message_id"`
	CreatedAt        string `json:"created_at"`
}

// ConversationPage is the list-endpoint response envelope.
type ConversationPage struct {
	Data []Conversation `json:"data"`
	Meta Meta           `json:"meta"`
}

// MessagePage is the messages-endpoint response envelope.
type MessagePage struct {
	Data []Message `json:"data"`
	Meta Meta      `json:"meta"`
}

// SendRequest is the POST body for the message dispatch endpoint.
type SendRequest struct {
	Phone            string `json:"phone"`
	Message          string `json:"message"`
	FileURL          string `json:"file_url"`
	MessengerID      int    `json:"messenger_id"`
	ContragentType   string `json:"contragent_type"`
	ContragentID     int    `json:"contragent_id"`
	ContactID        int    `json:"contragent_contact_id"`
	ClientMessageUID string `json:"client_message_uid"`
	ReplyMessageID   int    `json:"reply_message_id,omitempty"`
}

// SendResult is the dispatch endpoint's response. The server reports
// application-level delivery failures (recipient unreachable, messenger
// rejected the message) in-band with a 200, via the error fields.
type SendResult struct {
	MessageID   int    `json:"message_id"`
	Error       string `json:"error"`
	Description string `json:"description"`
}

// Failed reports an application-level send failure.
func (r *SendResult) Failed() bool {
	return r.Error != "" || r.Description != ""
}

// FailureDetail returns the human-readable failure reason.
func (r *SendResult) FailureDetail() string {
	if r.Description != "" {
		return r.Description
	}
	return r.Error
}

// uploadResult is the file-upload endpoint's response.
type uploadResult struct {
	FileURL string `json:"file_url"`
}

// ListParams are the query parameters of a list fetch.
type ListParams struct {
	Page           int
	Search         string
	AssignedUserID int
}
