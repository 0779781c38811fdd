package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatppt/chatppt/internal/slides"
)

func TestJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "fenced array with prose",
			text: "Sure! ```json\n[{\"slide_type\":\"title\",\"title\":\"Hi\"}]\n``` Thanks",
			want: `[{"slide_type":"title","title":"Hi"}]`,
		},
		{
			name: "trailing prose with brackets",
			text: `{"a": 1} and then [some notes]`,
			want: `{"a": 1}`,
		},
		{
			name: "brackets inside strings",
			text: `Result: {"title": "use } and ] freely", "q": "say \"{\""} done`,
			want: `{"title": "use } and ] freely", "q": "say \"{\""}`,
		},
		{
			name: "first valid candidate wins",
			text: `Step [1] gives {"ok": true}`,
			want: `[1]`,
		},
		{
			name: "prose bracket that is not json",
			text: `See [the appendix] for {"ok": true}`,
			want: `{"ok": true}`,
		},
		{
			name: "nested",
			text: `{"outline":[{"sub_topic":"A"}]}`,
			want: `{"outline":[{"sub_topic":"A"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := JSON(tt.text)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestJSONFailures(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"no brackets", "just chatting, no data"},
		{"empty", ""},
		{"truncated stream", `[{"slide_type":"title","title":"Hi"`},
		{"mismatched", `{"a": [1, 2}`},
		{"lone close", `}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				raw, err := JSON(tt.text)
				assert.ErrorIs(t, err, ErrNoPayload)
				assert.Nil(t, raw)
			})
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("slides", func(t *testing.T) {
		p, err := Extract("```json\n[{\"slide_type\":\"title\",\"title\":\"Hi\"}]\n```")
		require.NoError(t, err)
		assert.Equal(t, KindSlides, p.Kind)
		assert.Equal(t, slides.Document{slides.NewTitleSlide("Hi", "")}, p.Slides)
	})

	t.Run("wrapped slides_data", func(t *testing.T) {
		p, err := Extract(`{"slides_data":[{"slide_type":"content","title":"A","content":["x"]}]}`)
		require.NoError(t, err)
		assert.Equal(t, KindSlides, p.Kind)
		assert.Len(t, p.Slides, 1)
	})

	t.Run("refusal", func(t *testing.T) {
		p, err := Extract(`I can't help with that. {"refusal": true, "reason": "off topic"}`)
		require.NoError(t, err)
		assert.Equal(t, KindRefusal, p.Kind)
		assert.Equal(t, "off topic", p.Reason)
	})

	t.Run("refusal false is a plain object", func(t *testing.T) {
		p, err := Extract(`{"refusal": false}`)
		require.NoError(t, err)
		assert.Equal(t, KindObject, p.Kind)
	})

	t.Run("outline", func(t *testing.T) {
		p, err := Extract(`Here you go: {"main_topic":"X","summary_topic":"Y","outline":[{"sub_topic":"S1","topic1":"T1","topic2":"T2"}]}`)
		require.NoError(t, err)
		assert.Equal(t, KindOutline, p.Kind)
		require.NotNil(t, p.Outline)
		assert.Equal(t, "X", p.Outline.MainTopic)
	})

	t.Run("array of unknown slides", func(t *testing.T) {
		p, err := Extract(`[1, 2, 3]`)
		require.NoError(t, err)
		assert.Equal(t, KindUnknown, p.Kind)
	})

	t.Run("empty array is not a document", func(t *testing.T) {
		p, err := Extract(`Sure, no sources [] needed.`)
		require.NoError(t, err)
		assert.Equal(t, KindUnknown, p.Kind)
		assert.Empty(t, p.Slides)

		p, err = Extract(`{"slides_data": []}`)
		require.NoError(t, err)
		assert.Equal(t, KindObject, p.Kind)
	})

	t.Run("payload after a bracket in prose", func(t *testing.T) {
		p, err := Extract("I rewrote slide [2] as asked:\n```json\n[{\"slide_type\":\"title\",\"title\":\"New\"}]\n```")
		require.NoError(t, err)
		assert.Equal(t, KindSlides, p.Kind)
		assert.Equal(t, slides.Document{slides.NewTitleSlide("New", "")}, p.Slides)
	})

	t.Run("broken slide array", func(t *testing.T) {
		p, err := Extract(`Here: [{"slide_type":"hologram","title":"?"}]`)
		require.NoError(t, err)
		assert.Equal(t, KindBrokenSlides, p.Kind)
	})

	t.Run("known payload beats a broken one", func(t *testing.T) {
		p, err := Extract(`[{"slide_type":"hologram"}] then [{"slide_type":"title","title":"Ok"}]`)
		require.NoError(t, err)
		assert.Equal(t, KindSlides, p.Kind)
	})
}

func TestSlidesAndOutlineHelpers(t *testing.T) {
	_, err := Slides(`{"main_topic":"X","outline":[]}`)
	assert.ErrorIs(t, err, ErrNotSlides)

	_, err = Outline(`[{"slide_type":"title","title":"Hi"}]`)
	assert.ErrorIs(t, err, ErrNotOutline)

	_, err = Outline("nothing here")
	assert.ErrorIs(t, err, ErrNoPayload)
}
