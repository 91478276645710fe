package conversation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// exportBundle is the shape of a full-store export.
type exportBundle struct {
	ExportedAt    time.Time       `json:"exported_at"`
	Conversations []*Conversation `json:"conversations"`
}

func marshalConversation(c *Conversation) ([]byte, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling conversation %s: %w", c.ID, err)
	}
	return data, nil
}

func unmarshalConversation(data []byte) (*Conversation, error) {
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("parsing conversation export: %w", err)
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	for i := range conv.Messages {
		if conv.Messages[i].ID == "" {
			conv.Messages[i].ID = uuid.NewString()
		}
	}
	return &conv, nil
}

// reassignIDs gives the conversation and every message a fresh id. Messages
// must be re-id'd along with their parent: an export from this same store
// would otherwise collide on the message primary keys.
func reassignIDs(c *Conversation) {
	c.ID = uuid.NewString()
	for i := range c.Messages {
		c.Messages[i].ID = uuid.NewString()
	}
}

func marshalBundle(convs []*Conversation) ([]byte, error) {
	bundle := exportBundle{
		ExportedAt:    time.Now().UTC(),
		Conversations: convs,
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling export bundle: %w", err)
	}
	return data, nil
}
