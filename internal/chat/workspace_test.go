package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"parley/api/internal/agents"
	"parley/api/internal/contract"
)

type fakeConsultant struct {
	consultFn func(ctx context.Context, query string) (agents.ConsultantResponse, error)
}

func (f *fakeConsultant) Consult(ctx context.Context, query string) (agents.ConsultantResponse, error) {
	return f.consultFn(ctx, query)
}

type fakeContractor struct {
	generateFn func(ctx context.Context, report agents.Report) (contract.Format, error)
}

func (f *fakeContractor) GenerateContract(ctx context.Context, report agents.Report) (contract.Format, error) {
	return f.generateFn(ctx, report)
}

func testFormat() contract.Format {
	return contract.Format{
		Title:    "Service Agreement",
		Preamble: "This agreement is made between the parties.",
		Closing:  "Signed by both parties.",
		ApplicableStandards: []string{"ISO 9001"},
		Chapters: []contract.FormatChapter{
			{Title: "General Terms", Sections: []contract.FormatSection{
				{Title: "Scope", Content: "The scope of work."},
				{Title: "Duration", Content: "Twelve months."},
			}},
			{Title: "Payment", Sections: []contract.FormatSection{
				{Title: "Fees", Content: "Monthly invoicing."},
			}},
		},
	}
}

func seededWorkspace(t *testing.T, consultant Consultant) *Workspace {
	t.Helper()
	ws := NewWorkspace(contract.Details{ID: "con-1", Title: "New consultation"}, consultant, &fakeContractor{
		generateFn: func(ctx context.Context, report agents.Report) (contract.Format, error) {
			return testFormat(), nil
		},
	})
	if _, err := ws.Generate(context.Background(), agents.Report{ContractType: "services"}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	return ws
}

func transcript(t *testing.T, snap Snapshot, sectionID string) []contract.Message {
	t.Helper()
	_, section, ok := contract.FindSection(snap.Chapters, sectionID)
	if !ok {
		t.Fatalf("section %s not found", sectionID)
	}
	return section.Messages
}

func TestSendAppendsUserThenAssistant(t *testing.T) {
	consultant := &fakeConsultant{
		consultFn: func(ctx context.Context, query string) (agents.ConsultantResponse, error) {
			if query != "Hello" {
				t.Fatalf("query = %q", query)
			}
			return agents.ConsultantResponse{Response: "Hi there"}, nil
		},
	}
	ws := seededWorkspace(t, consultant)
	ws.SelectSection("1-1")

	snap := ws.Send(context.Background(), "Hello")

	msgs := transcript(t, snap, "1-1")
	if len(msgs) != 4 {
		t.Fatalf("message count = %d, want 4", len(msgs))
	}
	last, prev := msgs[3], msgs[2]
	if prev.Sender != contract.SenderUser || prev.Content != "Hello" {
		t.Errorf("user turn = %+v", prev)
	}
	if last.Sender != contract.SenderAssistant || last.Content != "Hi there" {
		t.Errorf("assistant turn = %+v", last)
	}
	if snap.Busy {
		t.Error("busy flag still set after turn settled")
	}
}

func TestSendBlankQueryIsNoOp(t *testing.T) {
	consultant := &fakeConsultant{
		consultFn: func(ctx context.Context, query string) (agents.ConsultantResponse, error) {
			t.Fatal("consultant called for blank query")
			return agents.ConsultantResponse{}, nil
		},
	}
	ws := seededWorkspace(t, consultant)
	ws.SelectSection("1-1")
	before := len(transcript(t, ws.Snapshot(), "1-1"))

	snap := ws.Send(context.Background(), "   \n\t ")

	if got := len(transcript(t, snap, "1-1")); got != before {
		t.Errorf("transcript grew from %d to %d on blank query", before, got)
	}
}

func TestSendWithoutSelectionIsNoOp(t *testing.T) {
	consultant := &fakeConsultant{
		consultFn: func(ctx context.Context, query string) (agents.ConsultantResponse, error) {
			t.Fatal("consultant called with no selection")
			return agents.ConsultantResponse{}, nil
		},
	}
	ws := seededWorkspace(t, consultant)

	snap := ws.Send(context.Background(), "Hello")

	for _, ch := range snap.Chapters {
		for _, sec := range ch.Sections {
			if len(sec.Messages) != 0 {
				t.Errorf("section %s gained messages: %d", sec.ID, len(sec.Messages))
			}
		}
	}
}

func TestSendConsultantFailureAppendsErrorReply(t *testing.T) {
	consultant := &fakeConsultant{
		consultFn: func(ctx context.Context, query string) (agents.ConsultantResponse, error) {
			return agents.ConsultantResponse{}, errors.New("dial tcp: connection refused")
		},
	}
	ws := seededWorkspace(t, consultant)
	ws.SelectSection("1-1")

	snap := ws.Send(context.Background(), "Hello")

	msgs := transcript(t, snap, "1-1")
	last := msgs[len(msgs)-1]
	if last.Sender != contract.SenderAssistant || last.Content != ErrorReply {
		t.Errorf("last message = %+v, want error reply", last)
	}
	if msgs[len(msgs)-2].Content != "Hello" {
		t.Errorf("user message missing before error reply")
	}
	if snap.Busy {
		t.Error("busy flag still set after failed turn")
	}
}

func TestSendReplyLandsOnSectionSelectedAtCallTime(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	consultant := &fakeConsultant{
		consultFn: func(ctx context.Context, query string) (agents.ConsultantResponse, error) {
			close(started)
			<-release
			return agents.ConsultantResponse{Response: "late reply"}, nil
		},
	}
	ws := seededWorkspace(t, consultant)
	ws.SelectSection("1-1")

	done := make(chan Snapshot, 1)
	go func() { done <- ws.Send(context.Background(), "Hello") }()

	// Move the selection only once the turn is in flight with its section
	// captured.
	<-started
	ws.SelectSection("2-1")
	close(release)
	snap := <-done

	msgs := transcript(t, snap, "1-1")
	if last := msgs[len(msgs)-1]; last.Content != "late reply" {
		t.Errorf("reply not attributed to original section, last = %q", last.Content)
	}
	for _, m := range transcript(t, snap, "2-1") {
		if m.Content == "late reply" {
			t.Error("reply leaked into newly selected section")
		}
	}
}

func TestSendReturnsSettledSnapshot(t *testing.T) {
	consultant := &fakeConsultant{
		consultFn: func(ctx context.Context, query string) (agents.ConsultantResponse, error) {
			return agents.ConsultantResponse{Response: "ok"}, nil
		},
	}
	ws := seededWorkspace(t, consultant)
	ws.SelectSection("1-1")

	snap := ws.Send(context.Background(), "Hello")

	if snap.Busy {
		t.Error("returned snapshot reports a live turn after it settled")
	}
	if ws.Snapshot().Busy {
		t.Error("workspace still busy after the turn settled")
	}
}

func TestOverlappingSendsKeepBusyUntilLastSettles(t *testing.T) {
	firstStarted := make(chan struct{})
	secondStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	releaseSecond := make(chan struct{})
	consultant := &fakeConsultant{
		consultFn: func(ctx context.Context, query string) (agents.ConsultantResponse, error) {
			switch query {
			case "first":
				close(firstStarted)
				<-releaseFirst
			case "second":
				close(secondStarted)
				<-releaseSecond
			}
			return agents.ConsultantResponse{Response: "ok"}, nil
		},
	}
	ws := seededWorkspace(t, consultant)
	ws.SelectSection("1-1")

	firstDone := make(chan Snapshot, 1)
	go func() { firstDone <- ws.Send(context.Background(), "first") }()
	<-firstStarted

	secondDone := make(chan Snapshot, 1)
	go func() { secondDone <- ws.Send(context.Background(), "second") }()
	<-secondStarted

	close(releaseFirst)
	if snap := <-firstDone; !snap.Busy {
		t.Error("busy cleared while another turn was still in flight")
	}

	close(releaseSecond)
	if snap := <-secondDone; snap.Busy {
		t.Error("busy still set after the last in-flight turn settled")
	}
}

func TestSendMergesDetailsKeepingPriorValues(t *testing.T) {
	consultant := &fakeConsultant{
		consultFn: func(ctx context.Context, query string) (agents.ConsultantResponse, error) {
			return agents.ConsultantResponse{Response: "ok", Summary: "a services deal", Source: ""}, nil
		},
	}
	ws := seededWorkspace(t, consultant)
	ws.SelectSection("1-1")

	snap := ws.Send(context.Background(), "Hello")

	if snap.Details.Summary != "a services deal" {
		t.Errorf("summary = %q", snap.Details.Summary)
	}
	if snap.Details.Title != "Service Agreement" {
		t.Errorf("blank response field overwrote title: %q", snap.Details.Title)
	}
}

func TestSelectSectionSeedsOpeningExchange(t *testing.T) {
	ws := seededWorkspace(t, &fakeConsultant{})

	snap := ws.SelectSection("1-2")

	if snap.SelectedChapterID != "1" || snap.SelectedSectionID != "1-2" {
		t.Fatalf("selection = %q/%q", snap.SelectedChapterID, snap.SelectedSectionID)
	}
	msgs := transcript(t, snap, "1-2")
	if len(msgs) != 2 {
		t.Fatalf("seeded transcript has %d messages, want 2", len(msgs))
	}
	if msgs[0].Sender != contract.SenderUser || !strings.Contains(msgs[0].Content, "Duration") {
		t.Errorf("opening = %+v", msgs[0])
	}
	if msgs[1].Sender != contract.SenderAssistant || !strings.Contains(msgs[1].Content, "Twelve months.") {
		t.Errorf("reply does not surface draft content: %+v", msgs[1])
	}
}

func TestSelectSectionUnknownIDIsSilentMiss(t *testing.T) {
	ws := seededWorkspace(t, &fakeConsultant{})
	ws.SelectSection("1-1")

	snap := ws.SelectSection("9-9")

	if snap.SelectedSectionID != "1-1" {
		t.Errorf("selection changed to %q on unknown id", snap.SelectedSectionID)
	}
}

func TestSelectChapterClearsSectionSelection(t *testing.T) {
	ws := seededWorkspace(t, &fakeConsultant{})
	ws.SelectSection("1-1")

	snap := ws.SelectChapter("2")

	if snap.SelectedChapterID != "2" || snap.SelectedSectionID != "" {
		t.Errorf("selection = %q/%q", snap.SelectedChapterID, snap.SelectedSectionID)
	}
}

func TestGenerateReplacesTreeAndClearsSelection(t *testing.T) {
	ws := seededWorkspace(t, &fakeConsultant{})
	ws.SelectSection("1-1")
	ws.ApproveAll()

	snap, err := ws.Generate(context.Background(), agents.Report{ContractType: "services"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if snap.SelectedChapterID != "" || snap.SelectedSectionID != "" {
		t.Errorf("selection survived regeneration: %q/%q", snap.SelectedChapterID, snap.SelectedSectionID)
	}
	if snap.AllApproved {
		t.Error("regenerated tree still reports all approved")
	}
	if snap.Envelope.Preamble != "This agreement is made between the parties." {
		t.Errorf("envelope = %+v", snap.Envelope)
	}
}

func TestGenerateFailureLeavesTreeUntouched(t *testing.T) {
	ws := seededWorkspace(t, &fakeConsultant{})
	ws.ApproveAll()
	before := ws.Snapshot()

	ws.contractor = &fakeContractor{
		generateFn: func(ctx context.Context, report agents.Report) (contract.Format, error) {
			return contract.Format{}, errors.New("agent returned 502")
		},
	}
	snap, err := ws.Generate(context.Background(), agents.Report{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !snap.AllApproved || len(snap.Chapters) != len(before.Chapters) {
		t.Error("failed generation modified the tree")
	}
	if snap.Busy {
		t.Error("busy flag still set after failed generation")
	}
}

func TestApproveSectionResolvesChapter(t *testing.T) {
	ws := seededWorkspace(t, &fakeConsultant{})

	snap := ws.ApproveSection("2-1")

	_, section, _ := contract.FindSection(snap.Chapters, "2-1")
	if !section.IsApproved {
		t.Fatal("section not approved")
	}
	chapter, _ := contract.FindChapter(snap.Chapters, "2")
	if !chapter.IsApproved {
		t.Error("single-section chapter not approved")
	}
}

func TestRegistryReturnsSameWorkspacePerConsultation(t *testing.T) {
	reg := NewRegistry(&fakeConsultant{}, &fakeContractor{})
	a := reg.Workspace(contract.Details{ID: "con-1", Title: "first"})
	b := reg.Workspace(contract.Details{ID: "con-1", Title: "renamed"})
	if a != b {
		t.Fatal("registry created a second workspace for the same consultation")
	}
	if a.Snapshot().Details.Title != "first" {
		t.Error("existing workspace details overwritten")
	}

	reg.Drop("con-1")
	if c := reg.Workspace(contract.Details{ID: "con-1"}); c == a {
		t.Error("dropped workspace still handed out")
	}
}
