package dash

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// SegmentRef is one addressable media segment with its media-timeline
// interval in seconds.
type SegmentRef struct {
	URL    string
	Number uint64
	Time   uint64
	Start  float64
	End    float64
}

var templateVar = regexp.MustCompile(`\$(RepresentationID|Number|Time|Bandwidth)(%0(\d+)d)?\$`)

// expandTemplate substitutes the DASH template identifiers of a media or
// initialization URL. "$$" is an escaped dollar sign.
func expandTemplate(tmpl string, rep *Representation, number, t uint64) string {
	out := templateVar.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := templateVar.FindStringSubmatch(m)
		var v uint64
		switch sub[1] {
		case "RepresentationID":
			return rep.ID
		case "Number":
			v = number
		case "Time":
			v = t
		case "Bandwidth":
			v = uint64(rep.Bandwidth)
		}
		if sub[3] != "" {
			width, _ := strconv.Atoi(sub[3])
			return fmt.Sprintf("%0*d", width, v)
		}
		return strconv.FormatUint(v, 10)
	})
	return strings.ReplaceAll(out, "$$", "$")
}

// resolveURL resolves a path against a base URL, handling potential errors.
func resolveURL(base *url.URL, path string) (*url.URL, error) {
	resolvedPath, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse path '%s': %w", path, err)
	}
	return base.ResolveReference(resolvedPath), nil
}

// segmentBase resolves the MPD and Period BaseURL elements against the MPD
// location.
func segmentBase(mpdLocationURL string, mpd *MPD, period *Period) (*url.URL, error) {
	base, err := url.Parse(mpdLocationURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mpdLocationURL '%s': %w", mpdLocationURL, err)
	}
	for _, ref := range []string{mpd.BaseURL, period.BaseURL} {
		if ref == "" {
			continue
		}
		if base, err = resolveURL(base, ref); err != nil {
			return nil, fmt.Errorf("failed to resolve BaseURL: %w", err)
		}
	}
	return base, nil
}

// BuildInitSegmentURL constructs the full URL for an initialization segment.
func BuildInitSegmentURL(mpdLocationURL string, mpd *MPD, period *Period, as *AdaptationSet, rep *Representation) (string, error) {
	tmpl, err := Template(as, rep)
	if err != nil {
		return "", err
	}
	if tmpl.Initialization == "" {
		return "", fmt.Errorf("representation %s has no initialization template", rep.ID)
	}
	base, err := segmentBase(mpdLocationURL, mpd, period)
	if err != nil {
		return "", err
	}
	u, err := resolveURL(base, expandTemplate(tmpl.Initialization, rep, 0, 0))
	if err != nil {
		return "", fmt.Errorf("failed to resolve init path: %w", err)
	}
	return u.String(), nil
}

// ConvertTimeline expands the segment template of rep into a flat list of
// media segments. SegmentTimeline templates are expanded entry by entry;
// $Number$ templates with a fixed duration are expanded up to the period
// (or presentation) duration.
func ConvertTimeline(mpdLocationURL string, mpd *MPD, period *Period, as *AdaptationSet, rep *Representation) ([]SegmentRef, error) {
	tmpl, err := Template(as, rep)
	if err != nil {
		return nil, err
	}
	if tmpl.Media == "" {
		return nil, fmt.Errorf("representation %s has no media template", rep.ID)
	}
	base, err := segmentBase(mpdLocationURL, mpd, period)
	if err != nil {
		return nil, err
	}
	periodStart, err := period.GetStart()
	if err != nil {
		return nil, fmt.Errorf("invalid period start %q: %w", period.Start, err)
	}

	timescale := float64(tmpl.GetTimescale())
	offset := periodStart.Seconds() - float64(tmpl.PresentationTimeOffset)/timescale

	var segments []SegmentRef
	add := func(number, t, d uint64) error {
		u, err := resolveURL(base, expandTemplate(tmpl.Media, rep, number, t))
		if err != nil {
			return fmt.Errorf("failed to resolve media path: %w", err)
		}
		segments = append(segments, SegmentRef{
			URL:    u.String(),
			Number: number,
			Time:   t,
			Start:  offset + float64(t)/timescale,
			End:    offset + float64(t+d)/timescale,
		})
		return nil
	}

	number := tmpl.GetStartNumber()
	switch {
	case tmpl.Timeline != nil:
		var currentTime uint64
		for _, s := range tmpl.Timeline.Segments {
			// If t is specified, it's an absolute start time.
			if s.T != nil {
				currentTime = *s.T
			}
			if s.D == 0 {
				return nil, errors.New("SegmentTimeline entry with zero duration")
			}
			// r=-1 (repeat until the end of the period) is not supported
			// for static presentations and is treated as a single segment.
			for i := 0; i <= max(s.R, 0); i++ {
				if err := add(number, currentTime, s.D); err != nil {
					return nil, err
				}
				currentTime += s.D
				number++
			}
		}

	case tmpl.Duration > 0:
		total, err := presentationSpan(mpd, period)
		if err != nil {
			return nil, err
		}
		if total <= 0 {
			return nil, fmt.Errorf("representation %s: $Number$ template needs a period or presentation duration", rep.ID)
		}
		count := uint64(math.Ceil(total * timescale / float64(tmpl.Duration)))
		for i := uint64(0); i < count; i++ {
			t := tmpl.PresentationTimeOffset + i*tmpl.Duration
			if err := add(number+i, t, tmpl.Duration); err != nil {
				return nil, err
			}
		}
		// The last segment ends with the presentation.
		if n := len(segments); n > 0 {
			segments[n-1].End = math.Min(segments[n-1].End, periodStart.Seconds()+total)
		}

	default:
		return nil, fmt.Errorf("representation %s: template has neither SegmentTimeline nor duration", rep.ID)
	}
	return segments, nil
}

// presentationSpan returns the period duration in seconds, falling back to
// the presentation duration minus the period start.
func presentationSpan(mpd *MPD, period *Period) (float64, error) {
	if period.Duration != "" {
		d, err := parseDuration(period.Duration)
		if err != nil {
			return 0, fmt.Errorf("invalid period duration %q: %w", period.Duration, err)
		}
		return d.Seconds(), nil
	}
	total, err := mpd.GetDuration()
	if err != nil {
		return 0, fmt.Errorf("invalid mediaPresentationDuration %q: %w", mpd.MediaPresentationDuration, err)
	}
	start, err := period.GetStart()
	if err != nil {
		return 0, err
	}
	return (total - start).Seconds(), nil
}
