package slides

import (
	"fmt"
	"strings"
)

// EditError represents a rejected slide edit
type EditError struct {
	Type    string
	Index   int
	Field   string
	Message string
}

func (e *EditError) Error() string {
	return fmt.Sprintf("slide edit error [%s] at slide %d field %q: %s", e.Type, e.Index, e.Field, e.Message)
}

// Edit error types
const (
	EditErrorTypeIndexOutOfRange    = "index_out_of_range"
	EditErrorTypeSubIndexOutOfRange = "sub_index_out_of_range"
	EditErrorTypeUnknownField       = "unknown_field"
	EditErrorTypeFieldNotArray      = "field_not_array"
	EditErrorTypeFieldNotApplicable = "field_not_applicable"
)

func newEditError(errType string, index int, field, format string, args ...any) *EditError {
	return &EditError{Type: errType, Index: index, Field: field, Message: fmt.Sprintf(format, args...)}
}

var knownFields = map[string]bool{
	FieldTitle:        true,
	FieldSubtitle:     true,
	FieldContent:      true,
	FieldLeftTopic:    true,
	FieldRightTopic:   true,
	FieldLeftContent:  true,
	FieldRightContent: true,
}

// UpdateField returns a copy of d with exactly one field of one slide changed.
//
// With subIndex set the field must be a list and only that element is replaced; the
// list length never changes. Without subIndex a list field is replaced by the lines
// of value. d itself is never modified, and on error nothing is changed.
func (d Document) UpdateField(index int, field, value string, subIndex *int) (Document, error) {
	if index < 0 || index >= len(d) {
		return nil, newEditError(EditErrorTypeIndexOutOfRange, index, field, "document has %d slides", len(d))
	}
	if !knownFields[field] {
		return nil, newEditError(EditErrorTypeUnknownField, index, field, "no such slide field")
	}

	out := d.Clone()
	slide := &out[index]

	if list := slide.listField(field); list != nil {
		if subIndex == nil {
			*list = splitLines(value)
			return out, nil
		}
		if *subIndex < 0 || *subIndex >= len(*list) {
			return nil, newEditError(EditErrorTypeSubIndexOutOfRange, index, field, "sub index %d outside list of %d items", *subIndex, len(*list))
		}
		(*list)[*subIndex] = value
		return out, nil
	}

	str := slide.stringField(field)
	if str == nil {
		return nil, newEditError(EditErrorTypeFieldNotApplicable, index, field, "field does not exist on %s slides", slide.Type)
	}
	if subIndex != nil {
		return nil, newEditError(EditErrorTypeFieldNotArray, index, field, "sub index given for a text field")
	}
	*str = value
	return out, nil
}

func (s *Slide) stringField(field string) *string {
	switch field {
	case FieldTitle:
		return &s.Title
	}

	switch s.Type {
	case TypeTitle:
		if field == FieldSubtitle {
			return &s.Subtitle
		}
	case TypeTwoColumn:
		switch field {
		case FieldLeftTopic:
			return &s.LeftTopic
		case FieldRightTopic:
			return &s.RightTopic
		}
	}
	return nil
}

func (s *Slide) listField(field string) *[]string {
	switch s.Type {
	case TypeContent:
		if field == FieldContent {
			return &s.Content
		}
	case TypeTwoColumn:
		switch field {
		case FieldLeftContent:
			return &s.LeftContent
		case FieldRightContent:
			return &s.RightContent
		}
	}
	return nil
}

func splitLines(value string) []string {
	lines := []string{}
	for _, line := range strings.Split(value, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
