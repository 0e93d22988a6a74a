package chat

// Conversation is created server-side and only read by the client. A nil
// Participants slice means the record arrived without a participants
// collection at all.
type Conversation struct {
	ID           ID            `json:"id"`
	Participants []Participant `json:"participants"`
}

// Participant returns the participant with the given id.
func (c Conversation) Participant(id ID) (Participant, bool) {
	for _, p := range c.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

// History is the one-time snapshot fetched when a conversation is opened.
// Messages are ordered by the server.
type History struct {
	ConversationID ID            `json:"conversation_id"`
	Participants   []Participant `json:"participants"`
	Messages       []Message     `json:"messages"`
}
