package feed

import (
	"encoding/json"
	"time"
)

// Item is one entry of a logical stream: a notification, a chat message or
// a dashboard row. ID is the deduplication key across the paginated history
// and push deliveries.
type Item struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	Read         bool      `json:"read"`
	Kind         string    `json:"kind,omitempty"`
	Title        string    `json:"title,omitempty"`
	Body         string    `json:"body,omitempty"`
	SenderID     string    `json:"senderId,omitempty"`
	AttachmentID string    `json:"attachmentId,omitempty"`
}

// PageMeta is the pagination envelope of the history API.
type PageMeta struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is one page of stream history.
type Page struct {
	Items []Item   `json:"items"`
	Meta  PageMeta `json:"meta"`
}

// UnmarshalJSON accepts numeric and string identifiers: the history API is
// not consistent about which one it emits per stream.
func (i *Item) UnmarshalJSON(data []byte) error {
	type alias Item
	aux := struct {
		ID json.RawMessage `json:"id"`
		*alias
	}{alias: (*alias)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var s string
	if err := json.Unmarshal(aux.ID, &s); err == nil {
		i.ID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(aux.ID, &n); err == nil {
		i.ID = n.String()
		return nil
	}
	i.ID = ""
	return nil
}
