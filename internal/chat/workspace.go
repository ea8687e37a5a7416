// Package chat drives a consultation workspace: the chapter/section tree,
// the selected section, and the dialogue with the external agents. State is
// session-only; a workspace lives as long as the process.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"parley/api/internal/agents"
	"parley/api/internal/contract"
	"parley/api/internal/util"
)

// ErrorReply is the fixed assistant message appended when a consultant turn
// fails; per-turn failures never surface as errors to the caller.
const ErrorReply = "an error occurred communicating with the agent"

type Consultant interface {
	Consult(ctx context.Context, query string) (agents.ConsultantResponse, error)
}

type Contractor interface {
	GenerateContract(ctx context.Context, report agents.Report) (contract.Format, error)
}

// Envelope is the generated document's front and back matter, kept apart
// from the chapter tree so regeneration replaces both together.
type Envelope struct {
	Title               string   `json:"title"`
	Preamble            string   `json:"preamble"`
	Closing             string   `json:"closing"`
	ApplicableStandards []string `json:"applicable_standards"`
}

// Snapshot is a point-in-time copy of workspace state for the HTTP layer.
type Snapshot struct {
	Details           contract.Details   `json:"details"`
	Envelope          Envelope           `json:"envelope"`
	Chapters          []contract.Chapter `json:"chapters"`
	SelectedChapterID string             `json:"selectedChapterId,omitempty"`
	SelectedSectionID string             `json:"selectedSectionId,omitempty"`
	Busy              bool               `json:"busy"`
	AllApproved       bool               `json:"allApproved"`
}

// Workspace owns one consultation's document tree. The tree is the single
// source of truth; the selection is a pair of ids resolved against it on
// every read, never a cached copy.
type Workspace struct {
	mu                sync.Mutex
	details           contract.Details
	envelope          Envelope
	chapters          []contract.Chapter
	selectedChapterID string
	selectedSectionID string
	inFlight          int

	consultant Consultant
	contractor Contractor
}

func NewWorkspace(details contract.Details, consultant Consultant, contractor Contractor) *Workspace {
	return &Workspace{
		details:    details,
		consultant: consultant,
		contractor: contractor,
	}
}

func (w *Workspace) snapshotLocked() Snapshot {
	chapters := make([]contract.Chapter, len(w.chapters))
	copy(chapters, w.chapters)
	return Snapshot{
		Details:           w.details,
		Envelope:          w.envelope,
		Chapters:          chapters,
		SelectedChapterID: w.selectedChapterID,
		SelectedSectionID: w.selectedSectionID,
		Busy:              w.inFlight > 0,
		AllApproved:       contract.AllApproved(w.chapters),
	}
}

func (w *Workspace) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// SelectChapter sets the chapter selection and clears any section selection.
// An unknown id is a silent miss.
func (w *Workspace) SelectChapter(chapterID string) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := contract.FindChapter(w.chapters, chapterID); ok {
		w.selectedChapterID = chapterID
		w.selectedSectionID = ""
	}
	return w.snapshotLocked()
}

// SelectSection selects a section and seeds its transcript with an opening
// exchange that surfaces the current draft content.
func (w *Workspace) SelectSection(sectionID string) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	chapter, section, ok := contract.FindSection(w.chapters, sectionID)
	if !ok {
		return w.snapshotLocked()
	}

	now := time.Now()
	opening := contract.Message{
		ID:        util.NewID("msg"),
		Content:   fmt.Sprintf("Hello, I would like to discuss the %q section. Can you help me finalize it?", section.Title),
		Sender:    contract.SenderUser,
		Timestamp: now,
	}
	reply := contract.Message{
		ID:        util.NewID("msg"),
		Content:   fmt.Sprintf("Of course. Here is the current draft for %q:\n\n%s\n\nWhat would you like to change or add?", section.Title, section.Content),
		Sender:    contract.SenderAssistant,
		Timestamp: now,
	}
	w.chapters = contract.ReplaceMessages(w.chapters, sectionID, []contract.Message{opening, reply})
	w.selectedChapterID = chapter.ID
	w.selectedSectionID = sectionID
	return w.snapshotLocked()
}

// Send runs one conversation turn against the selected section. A blank
// query or missing selection is a silent no-op. The user message is appended
// before the consultant call is issued, and the assistant (or error) reply is
// attributed to the section id captured here, not whatever is selected when
// the call settles. The turn is reported as completed regardless of the
// consultant outcome.
func (w *Workspace) Send(ctx context.Context, text string) Snapshot {
	w.mu.Lock()
	if strings.TrimSpace(text) == "" || w.selectedSectionID == "" {
		defer w.mu.Unlock()
		return w.snapshotLocked()
	}

	sectionID := w.selectedSectionID
	w.inFlight++
	w.chapters = contract.AppendMessage(w.chapters, sectionID, contract.Message{
		ID:        util.NewID("msg"),
		Content:   text,
		Sender:    contract.SenderUser,
		Timestamp: time.Now(),
	})
	w.mu.Unlock()

	resp, err := w.consultant.Consult(ctx, text)

	// Settle before snapshotting: the returned snapshot must already show
	// this turn as finished. Busy stays set while another send overlaps.
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight--

	if err != nil {
		w.chapters = contract.AppendMessage(w.chapters, sectionID, contract.Message{
			ID:        util.NewID("msg"),
			Content:   ErrorReply,
			Sender:    contract.SenderAssistant,
			Timestamp: time.Now(),
		})
		return w.snapshotLocked()
	}

	w.details.Title = firstNonBlank(resp.Title, w.details.Title)
	w.details.Summary = firstNonBlank(resp.Summary, w.details.Summary)
	w.details.Source = firstNonBlank(resp.Source, w.details.Source)
	w.chapters = contract.AppendMessage(w.chapters, sectionID, contract.Message{
		ID:        util.NewID("msg"),
		Content:   resp.Response,
		Sender:    contract.SenderAssistant,
		Timestamp: time.Now(),
	})
	return w.snapshotLocked()
}

// Generate asks the contractor for a document and replaces the tree
// wholesale. All-or-nothing: any transport or parse failure leaves the
// current tree untouched and is returned to the caller for user-facing
// notification.
func (w *Workspace) Generate(ctx context.Context, report agents.Report) (Snapshot, error) {
	w.mu.Lock()
	w.inFlight++
	w.mu.Unlock()

	format, err := w.contractor.GenerateContract(ctx, report)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.inFlight--

	if err != nil {
		return w.snapshotLocked(), err
	}

	w.envelope = Envelope{
		Title:               format.Title,
		Preamble:            format.Preamble,
		Closing:             format.Closing,
		ApplicableStandards: format.ApplicableStandards,
	}
	w.chapters = contract.ChaptersFromFormat(format)
	w.selectedChapterID = ""
	w.selectedSectionID = ""
	w.details.Title = firstNonBlank(format.Title, w.details.Title)
	return w.snapshotLocked(), nil
}

// SetSectionContent replaces a section's draft text.
func (w *Workspace) SetSectionContent(sectionID, text string) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	if chapter, _, ok := contract.FindSection(w.chapters, sectionID); ok {
		w.chapters = contract.SetSectionContent(w.chapters, chapter.ID, sectionID, text)
	}
	return w.snapshotLocked()
}

// ApproveSection freezes the section and recomputes its chapter's flag.
func (w *Workspace) ApproveSection(sectionID string) Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	if chapter, _, ok := contract.FindSection(w.chapters, sectionID); ok {
		w.chapters = contract.ApproveSection(w.chapters, chapter.ID, sectionID)
	}
	return w.snapshotLocked()
}

// ApproveAll approves every section, then every chapter.
func (w *Workspace) ApproveAll() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chapters = contract.ApproveAll(w.chapters)
	return w.snapshotLocked()
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
