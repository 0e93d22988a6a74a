package chat

import "time"

// Message is immutable once received. It enters a timeline only when the
// gateway echoes it back and leaves on a deletion event.
type Message struct {
	ID             ID          `json:"id"`
	ConversationID ID          `json:"conversation_id"`
	Sender         Participant `json:"sender"`
	Content        string      `json:"content"`
	Timestamp      time.Time   `json:"timestamp"`
}
