package player

import (
	"fmt"

	"c2pastreamd/internal/models"
)

// Event names a player notification.
type Event string

// Inbound events from the streaming transport and the host media element.
const (
	EventQualityChangeRendered Event = "qualityChangeRendered"
	EventPlaybackTimeUpdated   Event = "playbackTimeUpdated"
	EventPlaybackEnded         Event = "playbackEnded"
	EventSegmentResponse       Event = "segmentResponse"
	EventDurationChange        Event = "durationchange"
	EventPlay                  Event = "play"
	EventSeeking               Event = "seeking"
	EventSeeked                Event = "seeked"
	EventAcknowledge           Event = "acknowledge"
)

// Outbound events emitted on Player.Notifications.
const (
	EventStatusChanged Event = "statusChanged"
	EventFrictionShown Event = "frictionShown"
)

// InboundEvents lists every event a Player subscribes to.
var InboundEvents = []Event{
	EventQualityChangeRendered, EventPlaybackTimeUpdated, EventPlaybackEnded,
	EventSegmentResponse, EventDurationChange, EventPlay, EventSeeking,
	EventSeeked, EventAcknowledge,
}

// QualityChange reports that a new representation is being rendered.
type QualityChange struct {
	MediaType        models.MediaType `json:"mediaType"`
	RepresentationID string           `json:"representationId"`
}

// TimeUpdate reports the playhead position.
type TimeUpdate struct {
	Time     float64 `json:"time"`
	StreamID string  `json:"streamId,omitempty"`
}

// SegmentResponse carries a fetched segment.
type SegmentResponse struct {
	Segment models.SegmentDescriptor
}

// SeekEvent carries the seek target of seeking and seeked.
type SeekEvent struct {
	Time float64 `json:"time"`
}

// DurationChange carries the media duration in seconds.
type DurationChange struct {
	Duration float64 `json:"duration"`
}

// ParseEvent validates an inbound event name.
func ParseEvent(s string) (Event, error) {
	for _, e := range InboundEvents {
		if string(e) == s {
			return e, nil
		}
	}
	return "", fmt.Errorf("unknown event %q", s)
}
