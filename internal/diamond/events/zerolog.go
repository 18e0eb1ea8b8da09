package events

import (
	"encoding/json"
	"io"

	"github.com/rs/zerolog"
)

// NewZerologSink returns a handler that writes every event as one JSON line
// to w. Subscribe it to a RingBuffer to keep an append-only audit file.
func NewZerologSink(w io.Writer) EventHandler {
	logger := zerolog.New(w).With().Timestamp().Str("component", "audit").Logger()
	return func(e Event) {
		entry := logger.Info()
		switch e.Severity {
		case SeverityDebug:
			entry = logger.Debug()
		case SeverityWarning:
			entry = logger.Warn()
		case SeverityError:
			entry = logger.Error()
		}
		entry = entry.
			Str("event_id", e.ID).
			Str("type", string(e.Type)).
			Str("diamond", "0x"+e.Diamond.StringLE()).
			Str("sender", "0x"+e.Sender.StringLE())
		if e.Cut != nil {
			if raw, err := json.Marshal(e.Cut); err == nil {
				entry = entry.RawJSON("cut", raw)
			}
		}
		if len(e.Metadata) > 0 {
			dict := zerolog.Dict()
			for k, v := range e.Metadata {
				dict = dict.Str(k, v)
			}
			entry = entry.Dict("metadata", dict)
		}
		if e.RequestID != "" {
			entry = entry.Str("request_id", e.RequestID)
		}
		entry.Msg(e.Message)
	}
}
