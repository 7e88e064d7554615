package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventSyncStart      EventType = "sync_start"
	EventSyncComplete   EventType = "sync_complete"
	EventSyncFailed     EventType = "sync_failed"
	EventSyncLockReset  EventType = "sync_lock_reset"
	EventGroupCreate    EventType = "group_create"
	EventGroupRename    EventType = "group_rename"
	EventGroupDelete    EventType = "group_delete"
	EventGroupMerge     EventType = "group_merge"
	EventMembershipAdd  EventType = "membership_add"
	EventPartnerMatch   EventType = "partner_match"
	EventPartnerUnmatch EventType = "partner_unmatch"
)

type Event struct {
	Type    EventType
	RunID   string
	GroupID string
	IP      string
	Details map[string]interface{}
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", "operations").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.RunID != "" {
		logger = logger.With().Str("run_id", event.RunID).Logger()
	}
	if event.GroupID != "" {
		logger = logger.With().Str("group_id", event.GroupID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("operational audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = getClientIP(r)
	Log(r.Context(), event)
}

func getClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
