package dash

import (
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MPD is the root element of a Media Presentation Description.
type MPD struct {
	XMLName                   xml.Name `xml:"MPD"`
	Type                      string   `xml:"type,attr"`
	Profiles                  string   `xml:"profiles,attr"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	BaseURL                   string   `xml:"BaseURL"`
	Periods                   []Period `xml:"Period"`
}

// ParseMPD decodes an MPD document.
func ParseMPD(data []byte) (*MPD, error) {
	var mpd MPD
	if err := xml.Unmarshal(data, &mpd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MPD XML: %w", err)
	}
	if len(mpd.Periods) == 0 {
		return nil, errors.New("MPD has no periods")
	}
	return &mpd, nil
}

// GetDuration returns the mediaPresentationDuration, zero when absent.
func (m *MPD) GetDuration() (time.Duration, error) {
	if m.MediaPresentationDuration == "" {
		return 0, nil
	}
	return parseDuration(m.MediaPresentationDuration)
}

var durationPart = regexp.MustCompile(`(\d+\.?\d*)([HMS])`)

// parseDuration parses an ISO 8601 duration string like "PT8S" or "PT1M30.5S".
func parseDuration(duration string) (time.Duration, error) {
	if !strings.HasPrefix(duration, "PT") {
		// Fallback for simple duration strings like "5s"
		return time.ParseDuration(duration)
	}

	duration = strings.TrimPrefix(duration, "PT")
	if duration == "" {
		return 0, nil
	}
	matches := durationPart.FindAllStringSubmatch(duration, -1)
	consumed := 0
	for _, m := range matches {
		consumed += len(m[0])
	}
	if len(matches) == 0 || consumed != len(duration) {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", "PT"+duration)
	}

	var total time.Duration
	for _, match := range matches {
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return 0, err
		}
		switch match[2] {
		case "H":
			total += time.Duration(value * float64(time.Hour))
		case "M":
			total += time.Duration(value * float64(time.Minute))
		case "S":
			total += time.Duration(value * float64(time.Second))
		}
	}
	return total, nil
}

// Period represents a media content period.
type Period struct {
	ID       string          `xml:"id,attr"`
	Start    string          `xml:"start,attr"`
	Duration string          `xml:"duration,attr"`
	BaseURL  string          `xml:"BaseURL"`
	Sets     []AdaptationSet `xml:"AdaptationSet"`
}

// GetStart returns the Period's start time as a time.Duration.
func (p *Period) GetStart() (time.Duration, error) {
	if p.Start == "" {
		return 0, nil
	}
	return parseDuration(p.Start)
}

// AdaptationSet represents a set of interchangeable representations.
type AdaptationSet struct {
	ID              string           `xml:"id,attr"`
	ContentType     string           `xml:"contentType,attr"`
	Lang            string           `xml:"lang,attr,omitempty"`
	MimeType        string           `xml:"mimeType,attr"`
	Representations []Representation `xml:"Representation"`
	SegmentTemplate *SegmentTemplate `xml:"SegmentTemplate"`
}

// MediaType returns the content type, falling back to the mime type prefix.
func (as *AdaptationSet) MediaType() string {
	if as.ContentType != "" {
		return as.ContentType
	}
	if i := strings.IndexByte(as.MimeType, '/'); i > 0 {
		return as.MimeType[:i]
	}
	return ""
}

// Representation represents a specific media stream.
type Representation struct {
	ID              string           `xml:"id,attr"`
	Bandwidth       int              `xml:"bandwidth,attr"`
	Codecs          string           `xml:"codecs,attr"`
	Width           int              `xml:"width,attr,omitempty"`
	Height          int              `xml:"height,attr,omitempty"`
	MimeType        string           `xml:"mimeType,attr,omitempty"`
	SegmentTemplate *SegmentTemplate `xml:"SegmentTemplate"`
}

// SegmentTemplate defines the URL structure for segments. Either Timeline
// or Duration describes the segment boundaries.
type SegmentTemplate struct {
	Timescale              uint64           `xml:"timescale,attr"`
	Duration               uint64           `xml:"duration,attr"`
	StartNumber            *uint64          `xml:"startNumber,attr"`
	PresentationTimeOffset uint64           `xml:"presentationTimeOffset,attr"`
	Initialization         string           `xml:"initialization,attr"`
	Media                  string           `xml:"media,attr"`
	Timeline               *SegmentTimeline `xml:"SegmentTimeline"`
}

// GetTimescale returns the timescale, 1 when unset.
func (st *SegmentTemplate) GetTimescale() uint64 {
	if st.Timescale == 0 {
		return 1
	}
	return st.Timescale
}

// GetStartNumber returns startNumber, 1 when unset.
func (st *SegmentTemplate) GetStartNumber() uint64 {
	if st.StartNumber == nil {
		return 1
	}
	return *st.StartNumber
}

// SegmentTimeline defines the timeline of segments.
type SegmentTimeline struct {
	Segments []S `xml:"S"`
}

// S represents a single segment or a series of segments.
type S struct {
	T *uint64 `xml:"t,attr"`           // Start time
	D uint64  `xml:"d,attr"`           // Duration
	R int     `xml:"r,attr,omitempty"` // Repeat count
}

// Template returns the segment template of rep, inheriting unset fields
// from the adaptation set.
func Template(as *AdaptationSet, rep *Representation) (*SegmentTemplate, error) {
	switch {
	case rep.SegmentTemplate == nil && as.SegmentTemplate == nil:
		return nil, fmt.Errorf("representation %s has no SegmentTemplate", rep.ID)
	case rep.SegmentTemplate == nil:
		return as.SegmentTemplate, nil
	case as.SegmentTemplate == nil:
		return rep.SegmentTemplate, nil
	}

	merged := *as.SegmentTemplate
	r := rep.SegmentTemplate
	if r.Timescale != 0 {
		merged.Timescale = r.Timescale
	}
	if r.Duration != 0 {
		merged.Duration = r.Duration
	}
	if r.StartNumber != nil {
		merged.StartNumber = r.StartNumber
	}
	if r.PresentationTimeOffset != 0 {
		merged.PresentationTimeOffset = r.PresentationTimeOffset
	}
	if r.Initialization != "" {
		merged.Initialization = r.Initialization
	}
	if r.Media != "" {
		merged.Media = r.Media
	}
	if r.Timeline != nil {
		merged.Timeline = r.Timeline
	}
	return &merged, nil
}
