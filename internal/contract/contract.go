// Package contract holds the in-memory chapter/section tree a consultation
// workspace builds up before export.
package contract

import (
	"strconv"
	"time"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one chat turn inside a section's transcript. Messages are
// append-only and keep insertion order.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	SectionID string    `json:"sectionId"`
}

// Section is a leaf of the contract tree. FinalContent is set exactly once
// approval happens and is empty while IsApproved is false.
type Section struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	IsApproved   bool      `json:"isApproved"`
	Messages     []Message `json:"messages"`
	FinalContent string    `json:"finalContent,omitempty"`
}

// Chapter groups sections. IsApproved is derived: it is true iff every
// contained section is approved, and is recomputed after any approval
// mutation rather than set independently.
type Chapter struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Sections   []Section `json:"sections"`
	IsApproved bool      `json:"isApproved"`
}

// Details is the informational consultation header, updated opportunistically
// from consultant responses.
type Details struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Source  string `json:"source"`
	Status  string `json:"status"`
}

// Format is the generated document envelope returned by the contractor
// agent: the chapter/section tree plus front and back matter.
type Format struct {
	Title               string          `json:"title"`
	Preamble            string          `json:"preamble"`
	Chapters            []FormatChapter `json:"chapters"`
	Closing             string          `json:"closing"`
	ApplicableStandards []string        `json:"applicable_standards"`
}

type FormatChapter struct {
	Title    string          `json:"title"`
	Sections []FormatSection `json:"sections"`
}

type FormatSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// FindSection resolves a section by id across all chapters. Callers must
// re-resolve after every tree mutation instead of holding a copy.
func FindSection(chapters []Chapter, sectionID string) (Chapter, Section, bool) {
	for _, chapter := range chapters {
		for _, section := range chapter.Sections {
			if section.ID == sectionID {
				return chapter, section, true
			}
		}
	}
	return Chapter{}, Section{}, false
}

func FindChapter(chapters []Chapter, chapterID string) (Chapter, bool) {
	for _, chapter := range chapters {
		if chapter.ID == chapterID {
			return chapter, true
		}
	}
	return Chapter{}, false
}

// AppendMessage appends msg to the section's transcript and returns a new
// tree. The mutated section and its ancestor chapter are replaced, not
// mutated in place; untouched chapters are shared. An unknown sectionID is a
// silent miss: the input tree is returned unchanged.
func AppendMessage(chapters []Chapter, sectionID string, msg Message) []Chapter {
	msg.SectionID = sectionID
	next := make([]Chapter, len(chapters))
	copy(next, chapters)
	for ci, chapter := range next {
		for si, section := range chapter.Sections {
			if section.ID != sectionID {
				continue
			}
			sections := make([]Section, len(chapter.Sections))
			copy(sections, chapter.Sections)
			messages := make([]Message, 0, len(section.Messages)+1)
			messages = append(messages, section.Messages...)
			messages = append(messages, msg)
			section.Messages = messages
			sections[si] = section
			chapter.Sections = sections
			next[ci] = chapter
			return next
		}
	}
	return chapters
}

// ReplaceMessages swaps a section's whole transcript, used when selecting a
// section seeds a fresh opening exchange.
func ReplaceMessages(chapters []Chapter, sectionID string, messages []Message) []Chapter {
	next := make([]Chapter, len(chapters))
	copy(next, chapters)
	for ci, chapter := range next {
		for si, section := range chapter.Sections {
			if section.ID != sectionID {
				continue
			}
			sections := make([]Section, len(chapter.Sections))
			copy(sections, chapter.Sections)
			replaced := make([]Message, len(messages))
			copy(replaced, messages)
			for i := range replaced {
				replaced[i].SectionID = sectionID
			}
			section.Messages = replaced
			sections[si] = section
			chapter.Sections = sections
			next[ci] = chapter
			return next
		}
	}
	return chapters
}

// SetSectionContent replaces a section's draft content. Unknown ids are a
// silent miss.
func SetSectionContent(chapters []Chapter, chapterID, sectionID, text string) []Chapter {
	next := make([]Chapter, len(chapters))
	copy(next, chapters)
	for ci, chapter := range next {
		if chapter.ID != chapterID {
			continue
		}
		for si, section := range chapter.Sections {
			if section.ID != sectionID {
				continue
			}
			sections := make([]Section, len(chapter.Sections))
			copy(sections, chapter.Sections)
			section.Content = text
			sections[si] = section
			chapter.Sections = sections
			next[ci] = chapter
			return next
		}
	}
	return chapters
}

// ChaptersFromFormat seeds a tree from a generated contract. Chapters and
// sections are re-keyed with locally generated sequential ids ("<chapter>"
// and "<chapter>-<section>", 1-based) so uniqueness never depends on what
// the agent returned; transcripts start empty and nothing is approved.
func ChaptersFromFormat(format Format) []Chapter {
	chapters := make([]Chapter, 0, len(format.Chapters))
	for ci, fc := range format.Chapters {
		chapterID := strconv.Itoa(ci + 1)
		sections := make([]Section, 0, len(fc.Sections))
		for si, fs := range fc.Sections {
			sections = append(sections, Section{
				ID:       chapterID + "-" + strconv.Itoa(si+1),
				Title:    fs.Title,
				Content:  fs.Content,
				Messages: []Message{},
			})
		}
		chapters = append(chapters, Chapter{
			ID:       chapterID,
			Title:    fc.Title,
			Sections: sections,
		})
	}
	return chapters
}

// ExportContent is the canonical "what gets exported" rule for a section:
// the frozen final content when approval set it, the live draft otherwise.
func ExportContent(section Section) string {
	if section.IsApproved && section.FinalContent != "" {
		return section.FinalContent
	}
	return section.Content
}
