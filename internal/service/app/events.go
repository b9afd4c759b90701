package app

import (
	"context"
	"fmt"
	"strings"

	"mls_chat/internal/model"
	"mls_chat/internal/utils/log"

	"go.uber.org/zap"
)

const eventBuffer = 64

// EventLog is the coordinator's event sink for the UI. It never blocks the
// committing goroutine; events are dropped when the UI falls behind.
type EventLog struct {
	ch chan []model.Event
}

func NewEventLog() *EventLog {
	return &EventLog{ch: make(chan []model.Event, eventBuffer)}
}

func (l *EventLog) Publish(_ context.Context, events []model.Event) {
	if len(events) == 0 {
		return
	}
	select {
	case l.ch <- events:
	default:
		log.Warn("event log full, dropping events", zap.Int("count", len(events)))
	}
}

func (l *EventLog) C() <-chan []model.Event {
	return l.ch
}

func describeEvent(e model.Event) string {
	members := make([]string, 0, len(e.Members))
	for _, m := range e.Members {
		members = append(members, m.String())
	}
	list := strings.Join(members, ", ")
	group := string(e.GroupID)

	switch e.Type {
	case model.EventMemberJoin:
		return fmt.Sprintf("%s: %s joined", group, list)
	case model.EventMemberLeave:
		return fmt.Sprintf("%s: %s left", group, list)
	case model.EventMLSWelcome:
		return fmt.Sprintf("%s: joined", group)
	default:
		return fmt.Sprintf("%s: %s", group, e.Type)
	}
}
