// Package extract locates structured payloads inside free-form assistant text.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/chatppt/chatppt/internal/slides"
)

// ErrNoPayload is returned when the text holds no complete JSON object or array
var ErrNoPayload = errors.New("no JSON payload found")

var fenceReplacer = strings.NewReplacer("```json", "", "```JSON", "", "```", "")

// JSON returns the first complete JSON object or array embedded in text.
//
// Markdown fences are removed first. Each '{' or '[' is then tried in order: a
// scanner walks to the matching close bracket, skipping brackets inside string
// literals, and the candidate is accepted if it is valid JSON. Trailing prose after
// the payload is therefore ignored, and truncated payloads are rejected.
func JSON(text string) (json.RawMessage, error) {
	var found json.RawMessage
	eachCandidate(text, func(raw json.RawMessage) bool {
		found = raw
		return false
	})
	if found == nil {
		return nil, ErrNoPayload
	}
	return found, nil
}

// eachCandidate calls fn with every valid JSON value in text, in order of its opening
// bracket, until fn returns false
func eachCandidate(text string, fn func(raw json.RawMessage) bool) {
	clean := fenceReplacer.Replace(text)

	for start := 0; start < len(clean); start++ {
		if clean[start] != '{' && clean[start] != '[' {
			continue
		}
		end, ok := matchingClose(clean, start)
		if !ok {
			continue
		}
		candidate := clean[start : end+1]
		if json.Valid([]byte(candidate)) && !fn(json.RawMessage(candidate)) {
			return
		}
	}
}

// matchingClose returns the index of the bracket closing the one at start
func matchingClose(s string, start int) (int, bool) {
	var stack []byte
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// Kind classifies an extracted payload
type Kind int

const (
	KindUnknown Kind = iota
	KindRefusal
	KindSlides
	KindOutline
	KindObject
	// KindBrokenSlides is an array of slide objects that does not decode as a document
	KindBrokenSlides
)

func (k Kind) String() string {
	switch k {
	case KindRefusal:
		return "refusal"
	case KindSlides:
		return "slides"
	case KindOutline:
		return "outline"
	case KindObject:
		return "object"
	case KindBrokenSlides:
		return "broken_slides"
	default:
		return "unknown"
	}
}

// Payload is a classified payload. Slides or Outline is set for the matching kind.
type Payload struct {
	Kind    Kind
	Raw     json.RawMessage
	Slides  slides.Document
	Outline *slides.Outline
	// Reason carries the backend's message for refusals, if any
	Reason string
}

// Classify decides what an extracted payload represents. An array is slides only if
// every element decodes as a known slide variant. Objects are a refusal when
// "refusal" is true, slides when they wrap a "slides_data" array, and an outline
// when they carry an "outline" array.
func Classify(raw json.RawMessage) Payload {
	p := Payload{Kind: KindUnknown, Raw: raw}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return p
	}

	if trimmed[0] == '[' {
		doc, err := slides.ParseDocument(trimmed)
		switch {
		case err == nil && len(doc) > 0:
			p.Kind = KindSlides
			p.Slides = doc
		case err != nil && hasSlideObjects(trimmed):
			p.Kind = KindBrokenSlides
		}
		return p
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return p
	}
	p.Kind = KindObject

	if refusal, ok := obj["refusal"]; ok {
		var flag bool
		if json.Unmarshal(refusal, &flag) == nil && flag {
			p.Kind = KindRefusal
			for _, key := range []string{"reason", "message"} {
				if msg, ok := obj[key]; ok && json.Unmarshal(msg, &p.Reason) == nil {
					break
				}
			}
			return p
		}
	}

	if data, ok := obj["slides_data"]; ok {
		if doc, err := slides.ParseDocument(data); err == nil && len(doc) > 0 {
			p.Kind = KindSlides
			p.Slides = doc
			return p
		}
	}

	if outline, err := slides.ParseOutline(trimmed); err == nil {
		p.Kind = KindOutline
		p.Outline = outline
	}
	return p
}

// hasSlideObjects reports whether raw is an array holding at least one object with a
// slide_type key
func hasSlideObjects(raw []byte) bool {
	var elems []json.RawMessage
	if json.Unmarshal(raw, &elems) != nil {
		return false
	}
	for _, elem := range elems {
		var obj map[string]json.RawMessage
		if json.Unmarshal(elem, &obj) != nil {
			continue
		}
		if _, ok := obj["slide_type"]; ok {
			return true
		}
	}
	return false
}

// Extract classifies the payload of assistant text. Candidates are tried in order and
// the first refusal, slide document or outline wins, so a stray "[2]" in prose does not
// hide the real payload. Otherwise a broken slide array is reported, and failing that
// the first candidate.
func Extract(text string) (Payload, error) {
	var first, broken, known *Payload

	eachCandidate(text, func(raw json.RawMessage) bool {
		p := Classify(raw)
		switch p.Kind {
		case KindRefusal, KindSlides, KindOutline:
			known = &p
			return false
		case KindBrokenSlides:
			if broken == nil {
				broken = &p
			}
		}
		if first == nil {
			first = &p
		}
		return true
	})

	switch {
	case known != nil:
		return *known, nil
	case broken != nil:
		return *broken, nil
	case first != nil:
		return *first, nil
	}
	return Payload{Kind: KindUnknown}, ErrNoPayload
}

// ErrNotSlides and ErrNotOutline report a payload of the wrong shape
var (
	ErrNotSlides  = errors.New("payload is not a slide array")
	ErrNotOutline = errors.New("payload is not an outline")
)

// Slides extracts a slide document from assistant text
func Slides(text string) (slides.Document, error) {
	p, err := Extract(text)
	if err != nil {
		return nil, err
	}
	if p.Kind != KindSlides {
		return nil, ErrNotSlides
	}
	return p.Slides, nil
}

// Outline extracts an outline from assistant text
func Outline(text string) (*slides.Outline, error) {
	p, err := Extract(text)
	if err != nil {
		return nil, err
	}
	if p.Kind != KindOutline {
		return nil, ErrNotOutline
	}
	return p.Outline, nil
}
