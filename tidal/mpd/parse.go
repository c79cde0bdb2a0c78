package mpd

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const NumberPlaceholder = "$Number$"

var ErrMissingElement = errors.New("missing element")

type MPD struct {
	XMLName                   xml.Name `xml:"MPD"`
	Profiles                  string   `xml:"profiles,attr"`
	Type                      string   `xml:"type,attr"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr"`
	Periods                   []Period `xml:"Period"`
}

type Period struct {
	ID             string          `xml:"id,attr"`
	AdaptationSets []AdaptationSet `xml:"AdaptationSet"`
}

type AdaptationSet struct {
	ID               string           `xml:"id,attr"`
	ContentType      string           `xml:"contentType,attr"`
	MimeType         string           `xml:"mimeType,attr"`
	SegmentAlignment bool             `xml:"segmentAlignment,attr"`
	Representations  []Representation `xml:"Representation"`
}

type Representation struct {
	ID                string            `xml:"id,attr"`
	MimeType          string            `xml:"mimeType,attr"`
	Codecs            string            `xml:"codecs,attr"`
	Bandwidth         int               `xml:"bandwidth,attr"`
	AudioSamplingRate int               `xml:"audioSamplingRate,attr"`
	SegmentTemplates  []SegmentTemplate `xml:"SegmentTemplate"`
}

type SegmentTemplate struct {
	Timescale        int               `xml:"timescale,attr"`
	Initialization   string            `xml:"initialization,attr"`
	Media            string            `xml:"media,attr"`
	StartNumber      int               `xml:"startNumber,attr"`
	SegmentTimelines []SegmentTimeline `xml:"SegmentTimeline"`
}

type SegmentTimeline struct {
	S []S `xml:"S"`
}

// S is a timeline entry. R is the repeat count; absent and zero both count
// as a single segment.
type S struct {
	D int `xml:"d,attr"`
	R int `xml:"r,attr,omitempty"`
}

// StreamInfo is the first representation of the first adaptation set of the
// first period, which is the only one the service ever serves.
type StreamInfo struct {
	Codecs   string
	MimeType string
	Parts    Parts
}

type Parts struct {
	MediaTemplate string
	Count         int
}

// URLs expands the media template into one URL per part, substituting the
// zero-based part index for the number placeholder.
func (p Parts) URLs() []string {
	out := make([]string, p.Count)
	for i := range p.Count {
		out[i] = strings.ReplaceAll(p.MediaTemplate, NumberPlaceholder, strconv.Itoa(i))
	}

	return out
}

// SegmentsCount is one initialization segment plus the first media segment,
// plus one per timeline entry repetition.
func SegmentsCount(entries []S) (int, error) {
	count := 2
	for i, s := range entries {
		switch {
		case s.R < 0:
			return 0, fmt.Errorf("timeline entry %d has negative repeat count %d", i, s.R)
		case s.R == 0:
			count++
		default:
			count += s.R
		}
	}

	return count, nil
}

func (m *MPD) representation() (*AdaptationSet, *Representation, error) {
	if len(m.Periods) == 0 {
		return nil, nil, fmt.Errorf("%w: Period", ErrMissingElement)
	}

	period := m.Periods[0]
	if len(period.AdaptationSets) == 0 {
		return nil, nil, fmt.Errorf("%w: AdaptationSet", ErrMissingElement)
	}

	set := period.AdaptationSets[0]
	if len(set.Representations) == 0 {
		return nil, nil, fmt.Errorf("%w: Representation", ErrMissingElement)
	}

	return &set, &set.Representations[0], nil
}

func (m *MPD) parts(rep *Representation) (*Parts, error) {
	if len(rep.SegmentTemplates) == 0 {
		return nil, fmt.Errorf("%w: SegmentTemplate", ErrMissingElement)
	}

	tpl := rep.SegmentTemplates[0]
	if tpl.Media == "" {
		return nil, fmt.Errorf("%w: SegmentTemplate media attribute", ErrMissingElement)
	}

	if !strings.Contains(tpl.Media, NumberPlaceholder) {
		return nil, fmt.Errorf("segment template media %q has no %s placeholder", tpl.Media, NumberPlaceholder)
	}

	if len(tpl.SegmentTimelines) == 0 {
		return nil, fmt.Errorf("%w: SegmentTimeline", ErrMissingElement)
	}

	count, err := SegmentsCount(tpl.SegmentTimelines[0].S)
	if nil != err {
		return nil, fmt.Errorf("failed to count segments: %v", err)
	}

	return &Parts{MediaTemplate: tpl.Media, Count: count}, nil
}

func ParseStreamInfo(r io.Reader) (*StreamInfo, error) {
	var mpd MPD
	dec := xml.NewDecoder(r)
	dec.Strict = true
	if err := dec.Decode(&mpd); nil != err {
		return nil, fmt.Errorf("failed to parse MPD: %v", err)
	}

	set, rep, err := mpd.representation()
	if nil != err {
		return nil, fmt.Errorf("failed to get representation: %w", err)
	}

	if rep.Codecs == "" {
		return nil, fmt.Errorf("%w: Representation codecs attribute", ErrMissingElement)
	}

	parts, err := mpd.parts(rep)
	if nil != err {
		return nil, fmt.Errorf("failed to get parts: %w", err)
	}

	mimeType := set.MimeType
	if mimeType == "" {
		mimeType = rep.MimeType
	}

	return &StreamInfo{
		Codecs:   rep.Codecs,
		MimeType: mimeType,
		Parts:    *parts,
	}, nil
}
