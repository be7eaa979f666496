package notify

import (
	"fmt"

	"github.com/stagehand-live/stagehand/internal/event"
)

// Display priorities, lowest to highest. A higher-priority item preempts pending
// lower-priority items in the display queue.
const (
	PriorityChat = iota
	PriorityGreeting
	PriorityCommand
	PriorityGiftPaypiggy
	PriorityRedemption
	PriorityShare
	PriorityRaid
	PriorityCheer
	PriorityMember
	PriorityEnvelope
	PriorityGift
	PriorityFollow
)

var priorityByType = map[event.Type]int{
	event.TypeChatMessage:  PriorityChat,
	event.TypeGiftPaypiggy: PriorityGiftPaypiggy,
	event.TypeRaid:         PriorityRaid,
	event.TypePaypiggy:     PriorityMember,
	event.TypeEnvelope:     PriorityEnvelope,
	event.TypeGift:         PriorityGift,
	event.TypeFollow:       PriorityFollow,
}

// PriorityFor resolves the display priority for a notification type. An unknown
// type is a programming error, not a recoverable condition.
func PriorityFor(t event.Type) (int, error) {
	p, ok := priorityByType[t]
	if !ok {
		return 0, fmt.Errorf("missing priority mapping for notification type '%s'", t)
	}
	return p, nil
}
