// Package push parses new-message notification payloads. The same shape
// arrives over the realtime channel and in mobile push messages, with every
// id encoded as a string.
package push

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/operchat/echat/internal/repo"
)

// Notification is the wire payload of a new-message event.
type Notification struct {
	ID                  string `json:"id"`
	ContragentID        string `json:"contragent_id"`
	ContragentType      string `json:"contragent_type"`
	ContragentContactID string `json:"contragent_contact_id"`
}

// Parse decodes and validates a notification payload.
func Parse(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if _, err := n.MessageID(); err != nil {
		return nil, err
	}
	if _, err := n.Target(); err != nil {
		return nil, err
	}
	return &n, nil
}

// MessageID returns the server message id the notification announces.
func (n *Notification) MessageID() (int, error) {
	id, err := strconv.Atoi(n.ID)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("notification has bad message id %q", n.ID)
	}
	return id, nil
}

// Target resolves the notification to a conversation selection.
func (n *Notification) Target() (repo.Selection, error) {
	entity, err := repo.EntityFromContragent(n.ContragentType)
	if err != nil {
		return repo.Selection{}, err
	}
	id, err := strconv.Atoi(n.ContragentID)
	if err != nil || id <= 0 {
		return repo.Selection{}, fmt.Errorf("notification has bad contragent id %q", n.ContragentID)
	}
	contactID, err := strconv.Atoi(n.ContragentContactID)
	if err != nil || contactID <= 0 {
		return repo.Selection{}, fmt.Errorf("notification has bad contact id %q", n.ContragentContactID)
	}
	return repo.Selection{Entity: entity, ID: id, ContactID: contactID}, nil
}

// DeepLink returns the in-app navigation path for the notification's
// conversation.
func (n *Notification) DeepLink() string {
	sel, err := n.Target()
	if err != nil {
		return ""
	}
	return fmt.Sprintf("/chat/%s/%d/%d", sel.Entity, sel.ID, sel.ContactID)
}
