package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kalambet/applyd/internal/conversation"
	"github.com/kalambet/applyd/internal/engine"
	"github.com/kalambet/applyd/internal/mail"
	"github.com/kalambet/applyd/internal/profile"
	"github.com/kalambet/applyd/internal/retrieval"
	"github.com/kalambet/applyd/internal/storage"
)

// mockGate answers from a fixed verdict map keyed by message; unknown
// messages are continuations.
type mockGate struct {
	grounding map[string]bool
	err       error
	calls     int
}

func (m *mockGate) IsGroundingEvent(_ context.Context, msg string) (bool, error) {
	m.calls++
	if m.err != nil {
		return false, m.err
	}
	return m.grounding[msg], nil
}

// mockGenerator replies "reply-N" for the Nth call.
type mockGenerator struct {
	prompts []string
	opts    []engine.GenerateOptions
	err     error
}

func (m *mockGenerator) Generate(_ context.Context, prompt string, opts engine.GenerateOptions) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.prompts = append(m.prompts, prompt)
	m.opts = append(m.opts, opts)
	return fmt.Sprintf("reply-%d", len(m.prompts)), nil
}

type mockSearcher struct {
	hits    []retrieval.ScoredChunk
	err     error
	queries []string
}

func (m *mockSearcher) SimilaritySearch(_ context.Context, query string, k int) ([]retrieval.ScoredChunk, error) {
	m.queries = append(m.queries, query)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.hits) > k {
		return m.hits[:k], nil
	}
	return m.hits, nil
}

type mockProfiles struct {
	recs map[int]profile.Record
}

func (m *mockProfiles) Get(idx int) (profile.Record, error) {
	r, ok := m.recs[idx]
	if !ok {
		return profile.Record{}, storage.ErrNotFound
	}
	return r, nil
}

type mockRecorder struct {
	mu    sync.Mutex
	turns []storage.Turn
	err   error
}

func (m *mockRecorder) SaveTurn(t storage.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.turns = append(m.turns, t)
	return nil
}

type mockMailbox struct {
	unread  []mail.Message
	listErr error
	sendErr map[string]error
	// markErr makes SendReply report a sent reply that could not be marked
	// read, and makes MarkRead fail.
	markErr error
	sent    map[string]string
	sends   int
	marks   int
}

func (m *mockMailbox) ListUnread(_ context.Context, max int) ([]mail.Message, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if max > 0 && len(m.unread) > max {
		return m.unread[:max], nil
	}
	return m.unread, nil
}

func (m *mockMailbox) SendReply(_ context.Context, id, body string) (string, error) {
	if err := m.sendErr[id]; err != nil {
		return "", err
	}
	m.sends++
	if m.sent == nil {
		m.sent = map[string]string{}
	}
	m.sent[id] = body
	if m.markErr != nil {
		return "sent-" + id, m.markErr
	}
	return "sent-" + id, nil
}

func (m *mockMailbox) MarkRead(context.Context, string) error {
	m.marks++
	return m.markErr
}

func (m *mockMailbox) Address(context.Context) (string, error) { return "ada@example.com", nil }

const jd = "We are hiring a Go engineer with Kubernetes experience."

func adaRecord() profile.Record {
	return profile.Record{
		Name:    "Ada",
		Address: "London",
		About:   "Backend engineer.",
		WorkExperience: []profile.WorkExperience{
			{Title: "SRE", Company: "Initech", Skills: []string{"Go", "Kubernetes"}},
		},
		Projects: []profile.Project{
			{Title: "tracer", Skills: []string{"Go"}},
		},
	}
}

type fixture struct {
	gate     *mockGate
	gen      *mockGenerator
	searcher *mockSearcher
	recorder *mockRecorder
	factory  *Factory
}

func newFixture() *fixture {
	f := &fixture{
		gate: &mockGate{grounding: map[string]bool{jd: true}},
		gen:  &mockGenerator{},
		searcher: &mockSearcher{hits: []retrieval.ScoredChunk{
			{Content: "[Work Experience]\nTitle: SRE", Score: 0.2},
			{Content: "far away", Score: 0.8},
		}},
		recorder: &mockRecorder{},
	}
	open := func(int, int) (retrieval.Searcher, error) { return f.searcher, nil }
	f.factory = NewFactory(&mockProfiles{recs: map[int]profile.Record{1: adaRecord()}}, open, f.gate, f.gen, f.recorder,
		Options{TopK: 10, Threshold: 0.5, WindowSize: 3, MaxTokens: 4096})
	return f
}

func TestTurn_GroundingRetrievesAndClearsWindow(t *testing.T) {
	f := newFixture()
	s, err := f.factory.Session(1, retrieval.RAGDirect)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}

	if _, err := s.Turn(context.Background(), "hello"); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if s.WindowLen() != 2 {
		t.Fatalf("window len = %d, want 2", s.WindowLen())
	}

	res, err := s.Turn(context.Background(), jd)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if !res.Gated {
		t.Error("Gated = false, want true")
	}
	if res.Context != "[Work Experience]\nTitle: SRE" {
		t.Errorf("Context = %q", res.Context)
	}
	if !strings.Contains(res.Prompt, "as Ada, who currently lives in London") || !strings.Contains(res.Prompt, jd) {
		t.Errorf("prompt is not the chat template:\n%s", res.Prompt)
	}
	// Cleared before the grounded pair is appended.
	if diff := cmp.Diff([]string{res.Prompt, res.Reply}, s.window.Entries()); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
	if got := f.gen.opts[1]; got.MaxTokens != 4096 || got.Stop != nil {
		t.Errorf("generate options = %+v, want MaxTokens 4096 and no stop", got)
	}
}

func TestTurn_ContinuationUsesWindow(t *testing.T) {
	f := newFixture()
	s, err := f.factory.Session(1, retrieval.RAGDirect)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}

	first, err := s.Turn(context.Background(), jd)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	res, err := s.Turn(context.Background(), "What salary do you expect?")
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Gated {
		t.Error("Gated = true, want false")
	}
	want := "Continue this conversation (each individual reply is separated by __________) " +
		"(First prompt is by user, then the next is LLM, then user, and then LLM and so on):\n\n'''" +
		first.Prompt + conversation.Delimiter + first.Reply + conversation.Delimiter +
		"What salary do you expect?\n\n'''"
	if res.Prompt != want {
		t.Errorf("continuation prompt mismatch:\n got %q\nwant %q", res.Prompt, want)
	}
	if len(f.searcher.queries) != 1 {
		t.Errorf("retrieval ran %d times, want 1", len(f.searcher.queries))
	}
}

func TestTurn_WindowBounded(t *testing.T) {
	f := newFixture()
	s, _ := f.factory.Session(1, retrieval.RAGDirect)
	for i := 0; i < 10; i++ {
		if _, err := s.Turn(context.Background(), fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("Turn %d: %v", i, err)
		}
		if s.WindowLen() > 6 {
			t.Fatalf("window len = %d after turn %d, want <= 6", s.WindowLen(), i)
		}
	}
}

func TestTurn_EmptyRetrievalStillGenerates(t *testing.T) {
	f := newFixture()
	f.searcher.hits = []retrieval.ScoredChunk{{Content: "far", Score: 0.9}}
	s, _ := f.factory.Session(1, retrieval.RAGDirect)

	res, err := s.Turn(context.Background(), jd)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if res.Context != "" {
		t.Errorf("Context = %q, want empty", res.Context)
	}
	if res.Reply == "" || len(f.gen.prompts) != 1 {
		t.Error("reply was not generated for empty context")
	}
}

func TestTurn_SkillStrategy(t *testing.T) {
	f := newFixture()
	f.searcher.hits = []retrieval.ScoredChunk{{Content: "Go", Score: 0.9}}
	s, err := f.factory.Session(1, retrieval.RAGSkillBackReference)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}

	res, err := s.Turn(context.Background(), jd)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if !strings.Contains(res.Context, "[Work Experience]") || !strings.Contains(res.Context, "[Projects]") {
		t.Errorf("Context = %q, want experience and project", res.Context)
	}
}

func TestTurn_GateErrorIsFatal(t *testing.T) {
	f := newFixture()
	f.gate.err = errors.New("llm down")
	s, _ := f.factory.Session(1, retrieval.RAGDirect)

	if _, err := s.Turn(context.Background(), jd); err == nil {
		t.Fatal("expected error, got nil")
	}
	if s.WindowLen() != 0 {
		t.Errorf("window len = %d after failed turn, want 0", s.WindowLen())
	}
}

func TestTurn_GenerateErrorLeavesWindow(t *testing.T) {
	f := newFixture()
	s, _ := f.factory.Session(1, retrieval.RAGDirect)
	if _, err := s.Turn(context.Background(), "hello"); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	f.gen.err = errors.New("timeout")

	if _, err := s.Turn(context.Background(), "again"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if s.WindowLen() != 2 {
		t.Errorf("window len = %d, want 2", s.WindowLen())
	}
}

func TestTurn_RecorderFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.recorder.err = errors.New("disk full")
	s, _ := f.factory.Session(1, retrieval.RAGDirect)

	if _, err := s.Turn(context.Background(), jd); err != nil {
		t.Fatalf("Turn: %v", err)
	}
}

func TestTurn_Recorded(t *testing.T) {
	f := newFixture()
	s, _ := f.factory.Session(1, retrieval.RAGDirect)
	if _, err := s.Turn(context.Background(), "hello"); err != nil {
		t.Fatalf("Turn: %v", err)
	}

	if len(f.recorder.turns) != 1 {
		t.Fatalf("recorded %d turns, want 1", len(f.recorder.turns))
	}
	got := f.recorder.turns[0]
	if got.SessionID != s.ID || got.ProfileIndex != 1 || got.Channel != "chat" || got.Gated || got.Message != "hello" {
		t.Errorf("turn = %+v", got)
	}
	if got.ID == "" || got.CreatedAt.IsZero() {
		t.Error("turn missing id or timestamp")
	}
}

func TestFactory_UnknownRagType(t *testing.T) {
	f := newFixture()
	if _, err := f.factory.Session(1, 3); !errors.Is(err, retrieval.ErrUnknownStrategy) {
		t.Errorf("err = %v, want ErrUnknownStrategy", err)
	}
}

func TestFactory_UnknownProfile(t *testing.T) {
	f := newFixture()
	if _, err := f.factory.Session(42, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFactory_Draft(t *testing.T) {
	f := newFixture()
	res, err := f.factory.Draft(context.Background(), 1, retrieval.RAGDirect, "Hi, is this role a fit?", "email")
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if f.gate.calls != 0 {
		t.Error("Draft consulted the gate")
	}
	if !strings.HasPrefix(res.Prompt, "\nReply to the following email as Ada") {
		t.Errorf("prompt is not the email template:\n%s", res.Prompt)
	}
}

func TestProcessUnread(t *testing.T) {
	f := newFixture()
	box := &mockMailbox{unread: []mail.Message{
		{ID: "m1", ThreadID: "t1", From: "r@example.com", Body: jd},
		{ID: "m2", ThreadID: "t2", From: "friend@example.com", Body: "lunch?"},
	}}
	r, err := f.factory.Responder(1, retrieval.RAGDirect, box, 10)
	if err != nil {
		t.Fatalf("Responder: %v", err)
	}

	sum, err := r.ProcessUnread(context.Background())
	if err != nil {
		t.Fatalf("ProcessUnread: %v", err)
	}
	if diff := cmp.Diff(MailSummary{Seen: 2, Replied: 1, Skipped: 1}, sum); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
	if _, ok := box.sent["m2"]; ok {
		t.Error("replied to non job-description mail")
	}
	if box.sent["m1"] != "reply-1" {
		t.Errorf("reply to m1 = %q, want reply-1", box.sent["m1"])
	}
	if !strings.HasPrefix(f.gen.prompts[0], "\nReply to the following email as Ada") {
		t.Errorf("mail prompt is not the email template:\n%s", f.gen.prompts[0])
	}
	if f.recorder.turns[0].Channel != "email" {
		t.Errorf("recorded channel = %q, want email", f.recorder.turns[0].Channel)
	}
}

func TestProcessUnread_SkillStrategyUsesBackReference(t *testing.T) {
	f := newFixture()
	f.searcher.hits = []retrieval.ScoredChunk{{Content: "Kubernetes", Score: 0.7}}
	box := &mockMailbox{unread: []mail.Message{{ID: "m1", From: "r@example.com", Body: jd}}}
	r, err := f.factory.Responder(1, retrieval.RAGSkillBackReference, box, 10)
	if err != nil {
		t.Fatalf("Responder: %v", err)
	}

	if _, err := r.ProcessUnread(context.Background()); err != nil {
		t.Fatalf("ProcessUnread: %v", err)
	}
	if !strings.Contains(f.gen.prompts[0], "[Work Experience]\nTitle: SRE at Initech") {
		t.Errorf("email prompt missing rehydrated record:\n%s", f.gen.prompts[0])
	}
}

func TestProcessUnread_FailedMessageDoesNotBlockOthers(t *testing.T) {
	f := newFixture()
	box := &mockMailbox{unread: []mail.Message{
		{ID: "nofrom", Body: jd},
		{ID: "bounced", From: "a@example.com", Body: jd},
		{ID: "good", From: "r@example.com", Body: jd},
	}, sendErr: map[string]error{"bounced": errors.New("quota exceeded")}}
	r, _ := f.factory.Responder(1, retrieval.RAGDirect, box, 10)

	for poll := 0; poll < 3; poll++ {
		sum, err := r.ProcessUnread(context.Background())
		if !errors.Is(err, mail.ErrNoSender) {
			t.Errorf("poll %d: err = %v, want it to carry ErrNoSender", poll, err)
		}
		if diff := cmp.Diff(MailSummary{Seen: 3, Replied: 1, Failed: 2}, sum); diff != "" {
			t.Errorf("poll %d: summary mismatch (-want +got):\n%s", poll, diff)
		}
	}
	if _, ok := box.sent["good"]; !ok {
		t.Error("message after the failing ones was not answered")
	}
	// nofrom never reaches the generator; bounced and good are generated each poll.
	if len(f.gen.prompts) != 6 {
		t.Errorf("generate calls = %d, want 6", len(f.gen.prompts))
	}
}

func TestProcessUnread_SentButUnmarkedIsNotAnsweredTwice(t *testing.T) {
	f := newFixture()
	box := &mockMailbox{
		unread:  []mail.Message{{ID: "m1", From: "r@example.com", Body: jd}},
		markErr: errors.New("label update failed"),
	}
	r, _ := f.factory.Responder(1, retrieval.RAGDirect, box, 10)

	sum, err := r.ProcessUnread(context.Background())
	if err != nil {
		t.Fatalf("ProcessUnread: %v", err)
	}
	if diff := cmp.Diff(MailSummary{Seen: 1, Replied: 1}, sum); diff != "" {
		t.Errorf("first sweep mismatch (-want +got):\n%s", diff)
	}

	sum, err = r.ProcessUnread(context.Background())
	if err != nil {
		t.Fatalf("ProcessUnread: %v", err)
	}
	if diff := cmp.Diff(MailSummary{Seen: 1, Skipped: 1}, sum); diff != "" {
		t.Errorf("second sweep mismatch (-want +got):\n%s", diff)
	}
	if box.sends != 1 {
		t.Errorf("sends = %d, want 1", box.sends)
	}
	if box.marks != 1 {
		t.Errorf("mark-read retries = %d, want 1", box.marks)
	}

	box.markErr = nil
	r.ProcessUnread(context.Background())
	if _, pending := r.answered["m1"]; pending {
		t.Error("message still pending after mark-read succeeded")
	}
}

func TestProcessUnread_GateErrorCountedAsFailed(t *testing.T) {
	f := newFixture()
	f.gate.err = errors.New("classifier down")
	box := &mockMailbox{unread: []mail.Message{
		{ID: "m1", From: "r@example.com", Body: jd},
		{ID: "m2", From: "r@example.com", Body: jd},
	}}
	r, _ := f.factory.Responder(1, retrieval.RAGDirect, box, 10)

	sum, err := r.ProcessUnread(context.Background())
	if !errors.Is(err, f.gate.err) {
		t.Errorf("err = %v, want %v", err, f.gate.err)
	}
	if sum.Failed != 2 || f.gate.calls != 2 {
		t.Errorf("summary = %+v, gate calls = %d, want both messages attempted", sum, f.gate.calls)
	}
}

func TestStorageTurn_CarriesGated(t *testing.T) {
	g := Grounding{ProfileIndex: 4, RAGType: retrieval.RAGSkillBackReference}
	for _, gated := range []bool{true, false} {
		got := storageTurn(g, "s1", "chat", gated, "hi", "prompt", "reply")
		if got.Gated != gated {
			t.Errorf("storageTurn(gated=%v).Gated = %v", gated, got.Gated)
		}
		if got.ProfileIndex != 4 || got.RAGType != 2 || got.SessionID != "s1" {
			t.Errorf("turn = %+v", got)
		}
	}
}

func TestProcessUnread_ListError(t *testing.T) {
	f := newFixture()
	box := &mockMailbox{listErr: errors.New("unauthorized")}
	r, _ := f.factory.Responder(1, retrieval.RAGDirect, box, 10)

	if _, err := r.ProcessUnread(context.Background()); err == nil {
		t.Fatal("expected error, got nil")
	}
}
