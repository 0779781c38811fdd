package slides

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SlideType discriminates the Slide variants
type SlideType string

const (
	TypeTitle     SlideType = "title"
	TypeContent   SlideType = "content"
	TypeTwoColumn SlideType = "two_column"
)

// Editable field names, matching the JSON keys of the wire format
const (
	FieldTitle        = "title"
	FieldSubtitle     = "subtitle"
	FieldContent      = "content"
	FieldLeftTopic    = "left_topic"
	FieldRightTopic   = "right_topic"
	FieldLeftContent  = "left_content"
	FieldRightContent = "right_content"
)

// ErrUnknownSlideType is returned when decoding a slide whose slide_type is not one of the known variants.
var ErrUnknownSlideType = errors.New("unknown slide type")

// Slide is one slide of a presentation. Type selects which of the other fields are meaningful:
//
//	title:      Title, Subtitle
//	content:    Title, Content
//	two_column: Title, LeftTopic, RightTopic, LeftContent, RightContent
//
// Fields that do not belong to the variant are dropped when decoding and never encoded.
type Slide struct {
	Type         SlideType
	Title        string
	Subtitle     string
	Content      []string
	LeftTopic    string
	RightTopic   string
	LeftContent  []string
	RightContent []string
}

// NewTitleSlide creates a title slide
func NewTitleSlide(title, subtitle string) Slide {
	return Slide{Type: TypeTitle, Title: title, Subtitle: subtitle}
}

// NewContentSlide creates a bulleted content slide
func NewContentSlide(title string, bullets ...string) Slide {
	return Slide{Type: TypeContent, Title: title, Content: append([]string{}, bullets...)}
}

// NewTwoColumnSlide creates a two column slide with empty columns
func NewTwoColumnSlide(title, leftTopic, rightTopic string) Slide {
	return Slide{
		Type:         TypeTwoColumn,
		Title:        title,
		LeftTopic:    leftTopic,
		RightTopic:   rightTopic,
		LeftContent:  []string{},
		RightContent: []string{},
	}
}

type titleWire struct {
	SlideType SlideType `json:"slide_type"`
	Title     string    `json:"title"`
	Subtitle  string    `json:"subtitle"`
}

type contentWire struct {
	SlideType SlideType `json:"slide_type"`
	Title     string    `json:"title"`
	Content   []string  `json:"content"`
}

type twoColumnWire struct {
	SlideType    SlideType `json:"slide_type"`
	Title        string    `json:"title"`
	LeftTopic    string    `json:"left_topic"`
	RightTopic   string    `json:"right_topic"`
	LeftContent  []string  `json:"left_content"`
	RightContent []string  `json:"right_content"`
}

type slideWire struct {
	SlideType    SlideType `json:"slide_type"`
	Title        string    `json:"title"`
	Subtitle     string    `json:"subtitle"`
	Content      []string  `json:"content"`
	LeftTopic    string    `json:"left_topic"`
	RightTopic   string    `json:"right_topic"`
	LeftContent  []string  `json:"left_content"`
	RightContent []string  `json:"right_content"`
}

// MarshalJSON encodes only the fields of the slide's variant
func (s Slide) MarshalJSON() ([]byte, error) {
	switch s.Type {
	case TypeTitle:
		return json.Marshal(titleWire{SlideType: s.Type, Title: s.Title, Subtitle: s.Subtitle})
	case TypeContent:
		return json.Marshal(contentWire{SlideType: s.Type, Title: s.Title, Content: nonNil(s.Content)})
	case TypeTwoColumn:
		return json.Marshal(twoColumnWire{
			SlideType:    s.Type,
			Title:        s.Title,
			LeftTopic:    s.LeftTopic,
			RightTopic:   s.RightTopic,
			LeftContent:  nonNil(s.LeftContent),
			RightContent: nonNil(s.RightContent),
		})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlideType, s.Type)
	}
}

// UnmarshalJSON decodes a slide and normalizes it to its variant
func (s *Slide) UnmarshalJSON(data []byte) error {
	var w slideWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch w.SlideType {
	case TypeTitle:
		*s = Slide{Type: TypeTitle, Title: w.Title, Subtitle: w.Subtitle}
	case TypeContent:
		*s = Slide{Type: TypeContent, Title: w.Title, Content: nonNil(w.Content)}
	case TypeTwoColumn:
		*s = Slide{
			Type:         TypeTwoColumn,
			Title:        w.Title,
			LeftTopic:    w.LeftTopic,
			RightTopic:   w.RightTopic,
			LeftContent:  nonNil(w.LeftContent),
			RightContent: nonNil(w.RightContent),
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSlideType, w.SlideType)
	}
	return nil
}

// Clone returns a deep copy of the slide
func (s Slide) Clone() Slide {
	c := s
	c.Content = cloneList(s.Content)
	c.LeftContent = cloneList(s.LeftContent)
	c.RightContent = cloneList(s.RightContent)
	return c
}

// Document is the ordered list of slides of one presentation
type Document []Slide

// ParseDocument decodes a JSON array of slides
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode slides: %w", err)
	}
	if doc == nil {
		return nil, errors.New("slides payload is not an array")
	}
	return doc, nil
}

// MarshalJSON encodes an empty document as [] rather than null
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal([]Slide(nonNilSlides(d)))
}

// Title is the title of the first title slide, or "" when there is none
func (d Document) Title() string {
	for _, s := range d {
		if s.Type == TypeTitle {
			return s.Title
		}
	}
	return ""
}

func (d Document) IsEmpty() bool {
	return len(d) == 0
}

// Clone returns a deep copy that shares no slices with d
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	out := make(Document, len(d))
	for i, s := range d {
		out[i] = s.Clone()
	}
	return out
}

// OutlineEntry is one sub-topic of an outline
type OutlineEntry struct {
	SubTopic string `json:"sub_topic"`
	Topic1   string `json:"topic1"`
	Topic2   string `json:"topic2"`
}

// Outline is the intermediate artifact produced before detailed content
type Outline struct {
	MainTopic    string         `json:"main_topic"`
	SummaryTopic string         `json:"summary_topic"`
	Entries      []OutlineEntry `json:"outline"`
}

// ErrNotOutline is returned by ParseOutline for objects without an outline array
var ErrNotOutline = errors.New("payload is not an outline")

// ParseOutline decodes an outline object. The outline array must be present.
func ParseOutline(data []byte) (*Outline, error) {
	var o Outline
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to decode outline: %w", err)
	}
	if o.Entries == nil {
		return nil, ErrNotOutline
	}
	return &o, nil
}

// Summary slide appended after the outline entries
const (
	SummaryTitle  = "Summary"
	SummaryBullet = "Thank you"
)

// Document synthesizes the initial slide document: a title slide, one two column
// slide per entry and a trailing summary slide.
func (o *Outline) Document() Document {
	doc := make(Document, 0, len(o.Entries)+2)
	doc = append(doc, NewTitleSlide(o.MainTopic, o.SummaryTopic))
	for _, e := range o.Entries {
		doc = append(doc, NewTwoColumnSlide(e.SubTopic, e.Topic1, e.Topic2))
	}
	doc = append(doc, NewContentSlide(SummaryTitle, SummaryBullet))
	return doc
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func nonNilSlides(d Document) Document {
	if d == nil {
		return Document{}
	}
	return d
}

func cloneList(list []string) []string {
	if list == nil {
		return nil
	}
	return append([]string{}, list...)
}
