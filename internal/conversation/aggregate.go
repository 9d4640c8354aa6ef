package conversation

import (
	"slices"

	"github.com/aniladanir/wa-inbox/internal/domain"
)

// Aggregate groups messages by wa_id. The representative of a group is its newest message,
// the earliest inserted one wins on equal timestamps. Groups are ordered most recently
// active first. msgs must be in insertion order.
func Aggregate(msgs []domain.Message) []domain.Conversation {
	convs := make([]domain.Conversation, 0)
	index := make(map[string]int)

	for _, msg := range msgs {
		i, ok := index[msg.WaID]
		if !ok {
			index[msg.WaID] = len(convs)
			convs = append(convs, domain.Conversation{WaID: msg.WaID, LastMessage: msg, Count: 1})
			continue
		}
		convs[i].Count++
		if msg.Timestamp.After(convs[i].LastMessage.Timestamp) {
			convs[i].LastMessage = msg
		}
	}

	slices.SortStableFunc(convs, func(a, b domain.Conversation) int {
		return b.LastMessage.Timestamp.Compare(a.LastMessage.Timestamp)
	})
	return convs
}
