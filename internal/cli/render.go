package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chatppt/chatppt/internal/chat"
	"github.com/chatppt/chatppt/internal/extract"
	"github.com/chatppt/chatppt/internal/sessions"
	"github.com/chatppt/chatppt/internal/slides"
	"github.com/chatppt/chatppt/internal/transport"
)

func renderMessages(w io.Writer, st chat.State) {
	renderMessagesFrom(w, st, 0)
}

// renderMessagesFrom prints messages[from:], skipping the user's own echo
func renderMessagesFrom(w io.Writer, st chat.State, from int) {
	for _, msg := range st.Messages[min(from, len(st.Messages)):] {
		switch msg.Role {
		case sessions.RoleUser:
			continue
		case sessions.RoleSystem:
			fmt.Fprintf(w, "* %s\n", msg.Content)
		default:
			fmt.Fprintf(w, "assistant: %s\n", assistantText(msg.Content))
		}
	}
}

// assistantText shows a structured reply as a summary instead of raw JSON
func assistantText(content string) string {
	p, err := extract.Extract(content)
	if err != nil {
		return content
	}
	switch p.Kind {
	case extract.KindSlides:
		return fmt.Sprintf("(%d slides)", len(p.Slides))
	case extract.KindOutline:
		var b strings.Builder
		fmt.Fprintf(&b, "outline for %q\n", p.Outline.MainTopic)
		for i, e := range p.Outline.Entries {
			fmt.Fprintf(&b, "  %d. %s (%s / %s)\n", i+1, e.SubTopic, e.Topic1, e.Topic2)
		}
		if p.Outline.SummaryTopic != "" {
			fmt.Fprintf(&b, "  summary: %s\n", p.Outline.SummaryTopic)
		}
		b.WriteString("Type /confirm to accept it or keep chatting to change it.")
		return b.String()
	case extract.KindRefusal:
		if p.Reason != "" {
			return p.Reason
		}
	}
	return content
}

func renderSlides(w io.Writer, doc slides.Document) {
	if doc.IsEmpty() {
		fmt.Fprintln(w, "(no slides yet)")
		return
	}
	for i, s := range doc {
		fmt.Fprintf(w, "%2d. [%s] %s\n", i+1, s.Type, s.Title)
		switch s.Type {
		case slides.TypeTitle:
			if s.Subtitle != "" {
				fmt.Fprintf(w, "      %s\n", s.Subtitle)
			}
		case slides.TypeContent:
			renderBullets(w, "", s.Content)
		case slides.TypeTwoColumn:
			fmt.Fprintf(w, "      left: %s\n", s.LeftTopic)
			renderBullets(w, "  ", s.LeftContent)
			fmt.Fprintf(w, "      right: %s\n", s.RightTopic)
			renderBullets(w, "  ", s.RightContent)
		}
	}
}

func renderBullets(w io.Writer, indent string, items []string) {
	for i, item := range items {
		fmt.Fprintf(w, "      %s%d) %s\n", indent, i+1, item)
	}
}

func renderSessions(w io.Writer, entries []sessions.IndexEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No stored sessions.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tUPDATED\tPREVIEW")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.Title, e.Time.Local().Format(time.DateTime), e.Preview)
	}
	tw.Flush()
}

func renderFiles(w io.Writer, files []transport.RagFile) {
	if len(files) == 0 {
		fmt.Fprintln(w, "No reference documents.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSIZE\tSTATUS")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", f.ID, f.Name, f.Size, f.Status)
	}
	tw.Flush()
}
