package core

import "strings"

// SegmentType tags a content segment. Only text segments carry prompt text.
type SegmentType string

const (
	SegmentText  SegmentType = "text"
	SegmentImage SegmentType = "image"
)

// Segment is one typed block of structured content.
type Segment struct {
	Type SegmentType `json:"type" yaml:"type"`
	Text string      `json:"text,omitempty" yaml:"text,omitempty"`
}

// TextSegment builds a text-typed segment.
func TextSegment(text string) Segment {
	return Segment{Type: SegmentText, Text: text}
}

// Content is either PlainText or Segments.
type Content interface {
	isContent()
}

// PlainText is content given as a single string.
type PlainText string

// Segments is content given as an ordered list of typed blocks.
type Segments []Segment

func (PlainText) isContent() {}
func (Segments) isContent()  {}

// Flatten collapses content into one string. Text segments are joined with
// newlines in order, other segment types are dropped, and nil yields "".
func Flatten(c Content) string {
	switch v := c.(type) {
	case nil:
		return ""
	case PlainText:
		return string(v)
	case Segments:
		parts := make([]string, 0, len(v))
		for _, seg := range v {
			if seg.Type == SegmentText {
				parts = append(parts, seg.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// JoinSections joins two prompt sections with a blank line, skipping empty sides.
func JoinSections(first, second string) string {
	switch {
	case first == "":
		return second
	case second == "":
		return first
	}
	return first + "\n\n" + second
}
