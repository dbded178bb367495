package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Disconnected"
	}
}

// abnormalCloseCode is the WebSocket close code for an abnormal closure
// (no close frame received). It gets a distinguished transcript notice.
const abnormalCloseCode = 1006

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrNotConnected = errors.New("not connected")
)

// Transport is one open bidirectional connection to the backend.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// Dialer opens a transport to the given URL. Lifecycle events arrive on the
// returned channel; the channel is closed when the connection is gone.
type Dialer func(ctx context.Context, url string) (Transport, <-chan Event, error)

type ManagerOptions struct {
	ServerURL string
	// Identity pins the session identity; when empty one is drawn from
	// NewIdentity (RandomIdentity unless overridden).
	Identity    string
	NewIdentity IdentityProvider
	Dial        Dialer
	// AutoSummary arms the summary_ready push signal: when a matching frame
	// arrives, a summary fetch request is queued for the caller to consume.
	AutoSummary bool
	Log         *zap.Logger
}

// Manager owns the persistent connection, tracks its status, and dispatches
// inbound frames into the transcript. It is driven from a single goroutine
// (the UI update loop) and is not safe for concurrent use.
type Manager struct {
	serverURL   string
	identity    string
	dial        Dialer
	autoSummary bool
	log         *zap.Logger

	transport Transport
	status    Status
	closeCode int
	torn      bool

	summaryPending bool
	transcript     *Transcript
}

func NewManager(opts ManagerOptions) *Manager {
	dial := opts.Dial
	if dial == nil {
		dial = DialWebSocket
	}
	logger := opts.Log
	if logger == nil {
		logger = zap.NewNop()
	}
	identity := opts.Identity
	if identity == "" {
		provider := opts.NewIdentity
		if provider == nil {
			provider = RandomIdentity
		}
		identity = provider()
	}
	return &Manager{
		serverURL:   opts.ServerURL,
		identity:    identity,
		dial:        dial,
		autoSummary: opts.AutoSummary,
		log:         logger,
		transcript:  NewTranscript(),
	}
}

func (m *Manager) Identity() string        { return m.identity }
func (m *Manager) Status() Status          { return m.status }
func (m *Manager) Transcript() *Transcript { return m.transcript }

// StatusText is the status line shown in the UI, including the close code
// after a disconnect.
func (m *Manager) StatusText() string {
	if m.status == StatusDisconnected && m.closeCode != 0 {
		return fmt.Sprintf("Disconnected (Code: %d)", m.closeCode)
	}
	return m.status.String()
}

// Connect opens the transport. It is a no-op when a connection is already
// open or in progress. The caller pumps the returned event channel into
// HandleEvent.
func (m *Manager) Connect(ctx context.Context) (<-chan Event, error) {
	if m.status == StatusConnecting || m.status == StatusConnected {
		return nil, nil
	}
	// A teardown detaches the old connection, not the manager; a fresh dial
	// re-arms event handling.
	m.torn = false
	m.status = StatusConnecting
	m.closeCode = 0

	transport, events, err := m.dial(ctx, m.serverURL)
	if err != nil {
		m.status = StatusError
		m.transcript.AppendNotice(SeverityError, "Could not reach the chat server. Please try again later.")
		m.log.Error("dial failed", zap.String("url", m.serverURL), zap.Error(err))
		return nil, err
	}
	m.transport = transport
	m.log.Info("dialing", zap.String("url", m.serverURL))
	return events, nil
}

// HandleEvent is the single transition function for all transport lifecycle
// events. After Teardown it ignores everything.
func (m *Manager) HandleEvent(ev Event) {
	if m.torn {
		return
	}
	switch ev.Kind {
	case EventOpened:
		m.status = StatusConnected
		m.transcript.AppendNotice(SeverityInfo, "Connected to the care assistant.")
		m.sendHandshake()
	case EventFrame:
		m.handleFrame(ev.Data)
	case EventFailed:
		m.status = StatusError
		m.transcript.AppendNotice(SeverityError, "Connection error. Please check the server and try again.")
		m.log.Error("transport error", zap.Error(ev.Err))
	case EventClosed:
		m.status = StatusDisconnected
		m.closeCode = ev.Code
		m.transport = nil
		m.transcript.AppendNotice(SeverityInfo, closeNotice(ev.Code, ev.Reason))
		m.log.Info("connection closed", zap.Int("code", ev.Code), zap.String("reason", ev.Reason))
	}
}

func closeNotice(code int, reason string) string {
	if code == abnormalCloseCode {
		return "Connection closed abnormally. The chat server may be offline."
	}
	if strings.TrimSpace(reason) != "" {
		return fmt.Sprintf("Connection closed: %s", reason)
	}
	return "Connection closed."
}

func (m *Manager) sendHandshake() {
	if m.transport == nil {
		return
	}
	payload, err := json.Marshal(outboundFrame{Type: frameInitConnection, UserID: m.identity})
	if err != nil {
		return
	}
	if err := m.transport.Send(payload); err != nil {
		m.transcript.AppendNotice(SeverityError, "Could not register the session with the server.")
		m.log.Error("handshake send failed", zap.Error(err))
	}
}

func (m *Manager) handleFrame(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		m.transcript.AppendNotice(SeverityError, "Received an unreadable message from the server.")
		m.log.Warn("frame parse failed", zap.Error(err))
		return
	}

	m.log.Debug("frame received", zap.String("type", frame.Type))

	switch frame.Type {
	case frameAIResponse:
		text := "(no response text)"
		var usage *Usage
		if frame.Payload != nil {
			if strings.TrimSpace(frame.Payload.Text) != "" {
				text = frame.Payload.Text
			}
			usage = frame.Payload.Usage
		}
		m.transcript.AppendAI(text, usage)
	case frameSystemMessage:
		m.transcript.AppendNotice(SeverityInfo, frame.Text)
	case frameError:
		m.transcript.AppendNotice(SeverityError, frame.Message)
	case frameSummaryReady:
		if frame.UserID != m.identity {
			return
		}
		m.transcript.AppendNotice(SeverityInfo, "Your doctor summary is ready.")
		if m.autoSummary {
			m.summaryPending = true
		}
	default:
		// Unrecognized tags are ignored on purpose.
	}
}

// ConsumeSummaryRequest reports whether a summary_ready push arrived since
// the last call, clearing the flag.
func (m *Manager) ConsumeSummaryRequest() bool {
	pending := m.summaryPending
	m.summaryPending = false
	return pending
}

// Notice appends a locally-generated system notice. Used by the UI layer for
// events that originate outside the connection, like summary retries.
func (m *Manager) Notice(sev Severity, text string) {
	m.transcript.AppendNotice(sev, text)
}

// Send transmits one chat frame. Empty input and a closed transport are both
// refused with a transcript notice; nothing is transmitted in either case.
func (m *Manager) Send(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		m.transcript.AppendNotice(SeverityError, "Cannot send an empty message.")
		return ErrEmptyMessage
	}
	if m.status != StatusConnected || m.transport == nil {
		m.transcript.AppendNotice(SeverityError, "Not connected. Message not sent.")
		return ErrNotConnected
	}

	payload, err := json.Marshal(outboundFrame{Type: frameChatMessage, UserID: m.identity, Message: trimmed})
	if err != nil {
		return err
	}
	if err := m.transport.Send(payload); err != nil {
		m.transcript.AppendNotice(SeverityError, "Message could not be delivered.")
		m.log.Error("send failed", zap.Error(err))
		return err
	}
	m.transcript.AppendUser(trimmed)
	return nil
}

// Teardown detaches event handling before closing the transport, so a frame
// racing the shutdown never mutates a dismantled view.
func (m *Manager) Teardown() {
	m.torn = true
	if m.transport != nil {
		_ = m.transport.Close()
		m.transport = nil
	}
	m.status = StatusDisconnected
}
