package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type fakeTransport struct {
	sent    [][]byte
	sendErr error
	closed  bool
}

func (t *fakeTransport) Send(data []byte) error {
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, data)
	return nil
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

func fakeDialer(tr *fakeTransport, calls *int) Dialer {
	return func(ctx context.Context, url string) (Transport, <-chan Event, error) {
		if calls != nil {
			*calls++
		}
		ch := make(chan Event)
		close(ch)
		return tr, ch, nil
	}
}

// connectedManager returns a manager that has dialed and seen the open event.
func connectedManager(t *testing.T, tr *fakeTransport) *Manager {
	t.Helper()
	m := NewManager(ManagerOptions{
		ServerURL:   "ws://test/ws",
		Identity:    "user_test12345",
		AutoSummary: true,
		Dial:        fakeDialer(tr, nil),
	})
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	m.HandleEvent(Event{Kind: EventOpened})
	return m
}

func countKind(entries []Entry, kind EntryKind) int {
	n := 0
	for _, e := range entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func noticesOfSeverity(entries []Entry, sev Severity) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Kind == EntryNotice && e.Severity == sev {
			out = append(out, e)
		}
	}
	return out
}

func TestNewManager_IdentityFallback(t *testing.T) {
	m := NewManager(ManagerOptions{ServerURL: "ws://test/ws"})
	if !strings.HasPrefix(m.Identity(), "user_") {
		t.Fatalf("generated identity = %q, want user_ prefix", m.Identity())
	}

	m = NewManager(ManagerOptions{
		ServerURL:   "ws://test/ws",
		NewIdentity: func() string { return "user_fixed0001" },
	})
	if m.Identity() != "user_fixed0001" {
		t.Fatalf("identity = %q, want the injected provider's value", m.Identity())
	}

	m = NewManager(ManagerOptions{
		ServerURL:   "ws://test/ws",
		Identity:    "user_pinned001",
		NewIdentity: func() string { return "user_fixed0001" },
	})
	if m.Identity() != "user_pinned001" {
		t.Fatalf("identity = %q, explicit identity must win over the provider", m.Identity())
	}
}

func TestConnect_IdempotentWhileOpenOrInProgress(t *testing.T) {
	tr := &fakeTransport{}
	calls := 0
	m := NewManager(ManagerOptions{ServerURL: "ws://test/ws", Identity: "user_a", Dial: fakeDialer(tr, &calls)})

	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if m.Status() != StatusConnecting {
		t.Fatalf("status = %v, want Connecting", m.Status())
	}

	// Second connect while the first is in progress must not dial again.
	events, err := m.Connect(context.Background())
	if err != nil || events != nil {
		t.Fatalf("expected no-op connect, got events=%v err=%v", events, err)
	}

	m.HandleEvent(Event{Kind: EventOpened})
	if events, err := m.Connect(context.Background()); err != nil || events != nil {
		t.Fatalf("expected no-op connect while connected, got events=%v err=%v", events, err)
	}

	if calls != 1 {
		t.Fatalf("dial calls = %d, want 1", calls)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	m := NewManager(ManagerOptions{
		ServerURL: "ws://test/ws",
		Identity:  "user_a",
		Dial: func(ctx context.Context, url string) (Transport, <-chan Event, error) {
			return nil, nil, errors.New("refused")
		},
	})

	if _, err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if m.Status() != StatusError {
		t.Fatalf("status = %v, want Error", m.Status())
	}
	if got := noticesOfSeverity(m.Transcript().Entries(), SeverityError); len(got) != 1 {
		t.Fatalf("error notices = %d, want 1", len(got))
	}
}

func TestOpen_MarksConnectedAndSendsHandshake(t *testing.T) {
	tr := &fakeTransport{}
	m := connectedManager(t, tr)

	if m.Status() != StatusConnected {
		t.Fatalf("status = %v, want Connected", m.Status())
	}
	if len(tr.sent) != 1 {
		t.Fatalf("frames sent = %d, want 1 handshake", len(tr.sent))
	}

	var frame outboundFrame
	if err := json.Unmarshal(tr.sent[0], &frame); err != nil {
		t.Fatalf("unmarshal handshake: %v", err)
	}
	if frame.Type != "init_connection" {
		t.Fatalf("handshake type = %q, want init_connection", frame.Type)
	}
	if frame.UserID != "user_test12345" {
		t.Fatalf("handshake userId = %q", frame.UserID)
	}
	if got := noticesOfSeverity(m.Transcript().Entries(), SeverityInfo); len(got) != 1 {
		t.Fatalf("info notices = %d, want 1 connected notice", len(got))
	}
}

func TestFrame_AIResponse(t *testing.T) {
	m := connectedManager(t, &fakeTransport{})
	before := m.Transcript().Len()

	m.HandleEvent(Event{Kind: EventFrame, Data: []byte(`{"type":"ai_response","payload":{"text":"hi"}}`)})

	entries := m.Transcript().Entries()
	if got := countKind(entries, EntryAI); got != 1 {
		t.Fatalf("AI entries = %d, want 1", got)
	}
	if m.Transcript().Len() != before+1 {
		t.Fatalf("transcript grew by %d, want 1", m.Transcript().Len()-before)
	}
	last := entries[len(entries)-1]
	if last.Text != "hi" {
		t.Fatalf("text = %q, want hi", last.Text)
	}
	if last.Usage != nil {
		t.Fatalf("usage = %+v, want nil", last.Usage)
	}
}

func TestFrame_AIResponseWithUsage(t *testing.T) {
	m := connectedManager(t, &fakeTransport{})
	m.HandleEvent(Event{Kind: EventFrame, Data: []byte(`{"type":"ai_response","payload":{"text":"ok","usage":{"total_tokens":42}}}`)})

	entries := m.Transcript().Entries()
	last := entries[len(entries)-1]
	if last.Usage == nil || last.Usage.TotalTokens != 42 {
		t.Fatalf("usage = %+v, want total_tokens 42", last.Usage)
	}
}

func TestFrame_AIResponseMissingTextUsesPlaceholder(t *testing.T) {
	m := connectedManager(t, &fakeTransport{})
	m.HandleEvent(Event{Kind: EventFrame, Data: []byte(`{"type":"ai_response","payload":{}}`)})

	entries := m.Transcript().Entries()
	last := entries[len(entries)-1]
	if last.Kind != EntryAI || last.Text != "(no response text)" {
		t.Fatalf("got %+v, want placeholder AI entry", last)
	}
}

func TestFrame_SystemAndErrorNotices(t *testing.T) {
	m := connectedManager(t, &fakeTransport{})
	m.HandleEvent(Event{Kind: EventFrame, Data: []byte(`{"type":"system_message","text":"maintenance at noon"}`)})
	m.HandleEvent(Event{Kind: EventFrame, Data: []byte(`{"type":"error","message":"model unavailable"}`)})

	entries := m.Transcript().Entries()
	info := noticesOfSeverity(entries, SeverityInfo)
	if len(info) == 0 || info[len(info)-1].Text != "maintenance at noon" {
		t.Fatalf("missing system notice, info notices: %+v", info)
	}
	errs := noticesOfSeverity(entries, SeverityError)
	if len(errs) != 1 || errs[0].Text != "model unavailable" {
		t.Fatalf("error notices = %+v, want one with backend message", errs)
	}
}

func TestFrame_TranscriptGrowthAccounting(t *testing.T) {
	m := connectedManager(t, &fakeTransport{})
	before := m.Transcript().Len()

	frames := []string{
		`{"type":"ai_response","payload":{"text":"one"}}`,
		`{"type":"telemetry","data":123}`,
		`{"type":"system_message","text":"two"}`,
		`{"type":"presence_update","userId":"user_test12345"}`,
		`{"type":"error","message":"three"}`,
		`{"type":""}`,
	}
	for _, f := range frames {
		m.HandleEvent(Event{Kind: EventFrame, Data: []byte(f)})
	}

	// Only the three recognized tags add entries; unrecognized tags add
	// nothing at all.
	if got := m.Transcript().Len() - before; got != 3 {
		t.Fatalf("transcript grew by %d, want 3", got)
	}
}

func TestFrame_ParseFailureIsSoft(t *testing.T) {
	m := connectedManager(t, &fakeTransport{})
	before := len(noticesOfSeverity(m.Transcript().Entries(), SeverityError))

	m.HandleEvent(Event{Kind: EventFrame, Data: []byte(`{nope`)})

	if m.Status() != StatusConnected {
		t.Fatalf("status = %v, parse failure must not alter connection state", m.Status())
	}
	after := noticesOfSeverity(m.Transcript().Entries(), SeverityError)
	if len(after) != before+1 {
		t.Fatalf("error notices = %d, want %d", len(after), before+1)
	}
}

func TestFrame_SummaryReadyMatched(t *testing.T) {
	m := connectedManager(t, &fakeTransport{})
	m.HandleEvent(Event{Kind: EventFrame, Data: []byte(`{"type":"summary_ready","userId":"user_test12345"}`)})

	if !m.ConsumeSummaryRequest() {
		t.Fatal("expected a pending summary request")
	}
	if m.ConsumeSummaryRequest() {
		t.Fatal("consume must clear the pending flag")
	}
	info := noticesOfSeverity(m.Transcript().Entries(), SeverityInfo)
	if info[len(info)-1].Text != "Your doctor summary is ready." {
		t.Fatalf("notice = %q", info[len(info)-1].Text)
	}
}

func TestFrame_SummaryReadyOtherSessionIgnored(t *testing.T) {
	m := connectedManager(t, &fakeTransport{})
	before := m.Transcript().Len()

	m.HandleEvent(Event{Kind: EventFrame, Data: []byte(`{"type":"summary_ready","userId":"user_someoneelse"}`)})

	if m.ConsumeSummaryRequest() {
		t.Fatal("mismatched summary_ready must not queue a fetch")
	}
	if m.Transcript().Len() != before {
		t.Fatal("mismatched summary_ready must not append entries")
	}
}

func TestSend_EmptyInputTransmitsNothing(t *testing.T) {
	tr := &fakeTransport{}
	m := connectedManager(t, tr)
	framesBefore := len(tr.sent)

	for _, input := range []string{"", "   ", "\n\t "} {
		if err := m.Send(input); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("Send(%q) = %v, want ErrEmptyMessage", input, err)
		}
	}

	if len(tr.sent) != framesBefore {
		t.Fatalf("frames sent = %d, want %d", len(tr.sent), framesBefore)
	}
	if got := countKind(m.Transcript().Entries(), EntryUser); got != 0 {
		t.Fatalf("user entries = %d, want 0", got)
	}
}

func TestSend_WhileDisconnected(t *testing.T) {
	m := NewManager(ManagerOptions{ServerURL: "ws://test/ws", Identity: "user_a"})

	if err := m.Send("hello"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send = %v, want ErrNotConnected", err)
	}

	entries := m.Transcript().Entries()
	if got := noticesOfSeverity(entries, SeverityError); len(got) != 1 {
		t.Fatalf("error notices = %d, want exactly 1", len(got))
	}
	if got := countKind(entries, EntryUser); got != 0 {
		t.Fatalf("user entries = %d, want 0", got)
	}
}

func TestSend_TransmitsChatFrameAndAppendsUserEntry(t *testing.T) {
	tr := &fakeTransport{}
	m := connectedManager(t, tr)

	if err := m.Send("  how do I take this medication?  "); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(tr.sent) != 2 {
		t.Fatalf("frames sent = %d, want handshake + chat", len(tr.sent))
	}
	var frame outboundFrame
	if err := json.Unmarshal(tr.sent[1], &frame); err != nil {
		t.Fatal(err)
	}
	if frame.Type != "chat_message" || frame.UserID != "user_test12345" {
		t.Fatalf("frame = %+v", frame)
	}
	if frame.Message != "how do I take this medication?" {
		t.Fatalf("message = %q, want trimmed input", frame.Message)
	}
	if got := countKind(m.Transcript().Entries(), EntryUser); got != 1 {
		t.Fatalf("user entries = %d, want 1", got)
	}
}

func TestSend_TransportFailure(t *testing.T) {
	tr := &fakeTransport{}
	m := connectedManager(t, tr)
	tr.sendErr = errors.New("broken pipe")

	if err := m.Send("hello"); err == nil {
		t.Fatal("expected send error")
	}
	if got := countKind(m.Transcript().Entries(), EntryUser); got != 0 {
		t.Fatalf("user entries = %d, failed send must not append", got)
	}
}

func TestFailed_MarksErrorWithNotice(t *testing.T) {
	m := connectedManager(t, &fakeTransport{})
	m.HandleEvent(Event{Kind: EventFailed, Err: errors.New("read tcp: reset")})

	if m.Status() != StatusError {
		t.Fatalf("status = %v, want Error", m.Status())
	}
	if got := noticesOfSeverity(m.Transcript().Entries(), SeverityError); len(got) != 1 {
		t.Fatalf("error notices = %d, want 1", len(got))
	}
}

func TestClosed_AbnormalCode(t *testing.T) {
	m := connectedManager(t, &fakeTransport{})
	m.HandleEvent(Event{Kind: EventClosed, Code: 1006})

	if got := m.StatusText(); got != "Disconnected (Code: 1006)" {
		t.Fatalf("status text = %q", got)
	}
	entries := m.Transcript().Entries()
	last := entries[len(entries)-1]
	if last.Text != "Connection closed abnormally. The chat server may be offline." {
		t.Fatalf("notice = %q, want the distinguished abnormal-closure message", last.Text)
	}
}

func TestClosed_ReasonAndFallback(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		reason string
		want   string
	}{
		{"remote reason", 1000, "going away", "Connection closed: going away"},
		{"generic fallback", 1001, "", "Connection closed."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := connectedManager(t, &fakeTransport{})
			m.HandleEvent(Event{Kind: EventClosed, Code: tc.code, Reason: tc.reason})

			entries := m.Transcript().Entries()
			if got := entries[len(entries)-1].Text; got != tc.want {
				t.Fatalf("notice = %q, want %q", got, tc.want)
			}
			if want := fmt.Sprintf("Disconnected (Code: %d)", tc.code); m.StatusText() != want {
				t.Fatalf("status text = %q, want %q", m.StatusText(), want)
			}
		})
	}
}

func TestTeardown_DetachesBeforeClose(t *testing.T) {
	tr := &fakeTransport{}
	m := connectedManager(t, tr)
	before := m.Transcript().Len()

	m.Teardown()

	if !tr.closed {
		t.Fatal("transport not closed")
	}
	if m.Status() != StatusDisconnected {
		t.Fatalf("status = %v, want Disconnected", m.Status())
	}

	// Late events from the read loop must not reach the transcript.
	m.HandleEvent(Event{Kind: EventFrame, Data: []byte(`{"type":"ai_response","payload":{"text":"ghost"}}`)})
	m.HandleEvent(Event{Kind: EventClosed, Code: 1006})
	if m.Transcript().Len() != before {
		t.Fatalf("transcript grew by %d after teardown", m.Transcript().Len()-before)
	}
}

func TestConnect_AfterTeardown(t *testing.T) {
	tr := &fakeTransport{}
	m := connectedManager(t, tr)

	m.Teardown()

	// A fresh dial must re-arm event handling; teardown detaches the old
	// connection, not the manager.
	if _, err := m.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	m.HandleEvent(Event{Kind: EventOpened})

	if m.Status() != StatusConnected {
		t.Fatalf("status after reconnect open = %v, want Connected", m.Status())
	}
	if len(tr.sent) != 2 {
		t.Fatalf("frames sent = %d, want a handshake per connection", len(tr.sent))
	}

	m.HandleEvent(Event{Kind: EventFrame, Data: []byte(`{"type":"ai_response","payload":{"text":"back"}}`)})
	if got := countKind(m.Transcript().Entries(), EntryAI); got != 1 {
		t.Fatalf("AI entries = %d, frames must flow again after reconnect", got)
	}

	if err := m.Send("hello again"); err != nil {
		t.Fatalf("send after reconnect: %v", err)
	}
}
