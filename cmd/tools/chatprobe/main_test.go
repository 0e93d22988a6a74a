package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bookly/realtime/internal/model/chat"
)

func ids(messages []chat.Message) []chat.ID {
	out := make([]chat.ID, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func TestDiffTimeline_DeleteAndAppendInSameTick(t *testing.T) {
	req := require.New(t)
	shown := make(map[chat.ID]struct{})

	added, removed := diffTimeline(shown, []chat.Message{{ID: "1"}, {ID: "2"}})
	req.Equal([]chat.ID{"1", "2"}, ids(added))
	req.Empty(removed)

	// Same length as before, but "1" went away and "3" arrived.
	added, removed = diffTimeline(shown, []chat.Message{{ID: "2"}, {ID: "3"}})
	req.Equal([]chat.ID{"3"}, ids(added))
	req.Equal([]chat.ID{"1"}, removed)

	added, removed = diffTimeline(shown, []chat.Message{{ID: "2"}, {ID: "3"}})
	req.Empty(added)
	req.Empty(removed)
	req.Len(shown, 2)
}
