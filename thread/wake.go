package thread

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/linanwx/edgeagent/logger"
)

// Enqueue adds a wake message to the thread's inbox and notifies the manager.
func (t *Thread) Enqueue(msg *WakeMessage) {
	if msg == nil {
		return
	}
	t.inbox <- msg
	// Non-blocking notify: if signal already has a pending notification, skip.
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

// hasMessages returns true if the thread's inbox has pending messages.
func (t *Thread) hasMessages() bool {
	return len(t.inbox) > 0
}

// tryMerge drains the inbox for consecutive messages from the same source,
// concatenating their text and keeping the last sink. Other messages are
// re-enqueued.
func (t *Thread) tryMerge(first *WakeMessage) *WakeMessage {
	merged := 0
	var requeue []*WakeMessage
	for {
		select {
		case next := <-t.inbox:
			if next.Source == first.Source {
				first.Message += "\n" + next.Message
				if next.Sink != nil {
					first.Sink = next.Sink
				}
				merged++
			} else {
				requeue = append(requeue, next)
			}
		default:
			for _, m := range requeue {
				t.inbox <- m
			}
			if merged > 0 {
				logger.Info("merged wake messages",
					"threadID", t.id,
					"sessionKey", t.sessionKey,
					"source", first.Source,
					"merged", merged+1,
					"requeued", len(requeue),
				)
			}
			return first
		}
	}
}

// RunOnce dequeues one WakeMessage and executes a single turn.
func (t *Thread) RunOnce(ctx context.Context) {
	select {
	case msg := <-t.inbox:
		msg = t.tryMerge(msg)

		sink := msg.Sink
		if sink == nil {
			t.mu.Lock()
			sink = t.defaultSink
			t.mu.Unlock()
		}

		response, err := t.RunTurn(ctx, buildWakePayload(msg.Source, msg.Message, time.Now()))
		if err != nil {
			logger.Error("thread run error", "threadID", t.id, "sessionKey", t.sessionKey, "source", msg.Source, "err", err)
			response = fmt.Sprintf("[Error] %v", err)
		}

		if sink != nil && strings.TrimSpace(response) != "" {
			if sinkErr := sink(ctx, response); sinkErr != nil {
				logger.Error("sink delivery error", "threadID", t.id, "sessionKey", t.sessionKey, "err", sinkErr)
			}
		}
	default:
		// No message available; should not be called without pending messages.
	}
}

// buildWakePayload prefixes non-interactive wakes with their reason.
// Messages typed by a user are passed through unchanged.
func buildWakePayload(source, message string, now time.Time) string {
	source = strings.TrimSpace(source)
	message = strings.TrimSpace(message)
	if message == "" {
		return ""
	}
	action := wakeActionHint(source)
	if action == "" {
		return message
	}
	return fmt.Sprintf("[Wake reason: %s | %s]\n[Wake Action]\n%s\n\n%s",
		source, now.Format(time.RFC3339), action, message)
}

func wakeActionHint(source string) string {
	switch source {
	case "", "cli", "serve":
		return ""
	case "cron":
		return "A scheduled automation has started. Carry it out with the available tools."
	case "at":
		return "A one-shot reminder you scheduled earlier is due. Act on it."
	default:
		return "Process this wake message and continue."
	}
}
