package models

import (
	"fmt"
	"strings"
)

// MediaType identifies the kind of track a segment belongs to.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
)

// SupportedMediaTypes lists the media types that take part in verification,
// in the order they are evaluated.
var SupportedMediaTypes = []MediaType{MediaVideo, MediaAudio}

// ParseMediaType validates a media type string.
func ParseMediaType(s string) (MediaType, error) {
	switch MediaType(strings.ToLower(s)) {
	case MediaVideo:
		return MediaVideo, nil
	case MediaAudio:
		return MediaAudio, nil
	default:
		return "", fmt.Errorf("unsupported media type %q", s)
	}
}

// SegmentKind distinguishes initialization segments from media segments.
type SegmentKind string

const (
	KindInitialization SegmentKind = "InitializationSegment"
	KindMedia          SegmentKind = "MediaSegment"
)

// ParseSegmentKind accepts the transport's segment type names as well as
// the short forms "init" and "media".
func ParseSegmentKind(s string) (SegmentKind, error) {
	switch strings.ToLower(s) {
	case "initializationsegment", "init", "initialization":
		return KindInitialization, nil
	case "mediasegment", "media":
		return KindMedia, nil
	default:
		return "", fmt.Errorf("unsupported segment type %q", s)
	}
}

// Tag identifies one interval index: stream, media type and representation.
type Tag string

// NewTag builds the composite key for a (stream, media type, representation) triple.
func NewTag(streamID string, mediaType MediaType, representationID string) Tag {
	return Tag(streamID + "-" + string(mediaType) + "-" + representationID)
}

// Interval is a half-open range [Start, End) on the media timeline, in seconds.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Overlaps reports whether the two half-open intervals share any point.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

// Contains reports whether t lies inside [Start, End).
func (i Interval) Contains(t float64) bool {
	return t >= i.Start && t < i.End
}

func (i Interval) String() string {
	return fmt.Sprintf("[%.3f,%.3f)", i.Start, i.End)
}

// SegmentDescriptor describes one chunk fetched by the player transport.
type SegmentDescriptor struct {
	StreamID         string
	MediaType        MediaType
	RepresentationID string
	Kind             SegmentKind
	Payload          []byte
	// Start and End are media-timeline seconds. They are unset for
	// initialization segments.
	Start float64
	End   float64
}

// Tag returns the index key of the segment.
func (d SegmentDescriptor) Tag() Tag {
	return NewTag(d.StreamID, d.MediaType, d.RepresentationID)
}

// Interval returns the media interval covered by the segment.
func (d SegmentDescriptor) Interval() Interval {
	return Interval{Start: d.Start, End: d.End}
}

// Validate checks the descriptor fields the extractor relies on.
func (d SegmentDescriptor) Validate() error {
	if d.StreamID == "" {
		return fmt.Errorf("segment descriptor: empty stream id")
	}
	if d.RepresentationID == "" {
		return fmt.Errorf("segment descriptor: empty representation id")
	}
	if _, err := ParseMediaType(string(d.MediaType)); err != nil {
		return fmt.Errorf("segment descriptor: %w", err)
	}
	if d.Kind == KindMedia && !(d.End > d.Start) {
		return fmt.Errorf("segment descriptor: invalid media interval %s", d.Interval())
	}
	return nil
}
