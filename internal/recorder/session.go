package recorder

import (
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/vburojevic/valet/internal/bundle"
	"github.com/vburojevic/valet/internal/canonical"
	"github.com/vburojevic/valet/internal/chain"
	"github.com/vburojevic/valet/internal/domain"
	"github.com/vburojevic/valet/internal/signer"
)

// State is a session lifecycle state.
type State int

const (
	NotStarted State = iota
	Recording
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Recording:
		return "RECORDING"
	case Stopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session accumulates an ordered, hash-chained event sequence and exports it
// as one bundle. A Session is meant for a single producer; the mutex only
// keeps accidental concurrent use from corrupting the chain.
type Session struct {
	mu        sync.Mutex
	opts      options
	machineID string

	state     State
	sessionID string
	startedAt string
	chain     chain.Chain
	blobs     []bundle.Blob
}

// NewSession creates a recorder for machineID. The signer is resolved here
// and stays fixed for the lifetime of the session.
func NewSession(machineID string, opts ...Option) (*Session, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Session{opts: o, machineID: machineID}, nil
}

// Start opens the session.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != NotStarted {
		return &StateError{Op: "start", State: s.state}
	}
	s.sessionID = s.opts.newID()
	s.startedAt = s.opts.now()
	s.state = Recording
	s.opts.logger.Debug("session started",
		zap.String("session_id", s.sessionID),
		zap.String("signer", s.opts.signer.Algorithm()))
	return nil
}

// EventOption adjusts a single RecordEvent call.
type EventOption func(*eventOptions)

type eventOptions struct {
	ts          string
	attachments []Attachment
}

// At overrides the event timestamp instead of reading the clock.
func At(ts string) EventOption {
	return func(o *eventOptions) { o.ts = ts }
}

// WithAttachments adds binary side-content to the event.
func WithAttachments(a ...Attachment) EventOption {
	return func(o *eventOptions) { o.attachments = append(o.attachments, a...) }
}

// RecordEvent appends an event. It fails with ErrInvalidState outside
// RECORDING and with ErrEncoding for payloads that cannot be encoded; in
// both cases the chain is unchanged.
func (s *Session) RecordEvent(eventType string, payload any, opts ...EventOption) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Recording {
		return domain.Event{}, &StateError{Op: "record_event", State: s.state}
	}

	eo := eventOptions{}
	for _, opt := range opts {
		opt(&eo)
	}
	ts := eo.ts
	if ts == "" {
		ts = s.opts.now()
	}

	seq := s.chain.Len() + 1
	descriptors, blobs, err := prepareAttachments(seq, eo.attachments)
	if err != nil {
		return domain.Event{}, err
	}

	event, err := s.chain.Append(ts, eventType, payload, descriptors)
	if err != nil {
		return domain.Event{}, err
	}
	s.blobs = append(s.blobs, blobs...)

	s.opts.logger.Debug("event recorded",
		zap.String("session_id", s.sessionID),
		zap.Int("seq", event.Seq),
		zap.String("type", event.Type),
		zap.String("event_hash", event.EventHash))
	return event, nil
}

// StopAndExport closes the session, signs its receipt and writes the bundle
// into outputDir. It returns the bundle path and the final receipt.
func (s *Session) StopAndExport(outputDir string) (string, *domain.SessionReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Recording {
		return "", nil, &StateError{Op: "stop_and_export", State: s.state}
	}
	endedAt := s.opts.now()
	s.state = Stopped

	events := s.chain.Events()
	transcript, err := chain.TranscriptHash(events)
	if err != nil {
		return "", nil, err
	}

	receipt := domain.SessionReceipt{
		SchemaVersion: domain.SessionSchemaVersion,
		SessionID:     s.sessionID,
		StartedAt:     s.startedAt,
		EndedAt:       endedAt,
		Issuer: domain.Issuer{
			Service: s.opts.service,
			KeyID:   s.opts.signer.KeyID(),
		},
		Subject: s.opts.subjectFor(s.machineID),
		Events: lo.Map(events, func(e domain.Event, _ int) domain.EventSummary {
			return e.Summary()
		}),
		TranscriptHash:       transcript,
		BundleManifestSchema: domain.ManifestSchemaVersion,
		BundleHash:           "",
		Signatures:           []domain.SignatureBlock{},
	}

	sig, err := sign(s.opts.signer, receipt)
	if err != nil {
		return "", nil, err
	}
	if sig != nil {
		receipt.Signatures = []domain.SignatureBlock{*sig}
	}

	path, final, err := bundle.ExportSession(outputDir, bundle.Session{
		Receipt:   receipt,
		Events:    events,
		Blobs:     s.blobs,
		SourceURL: s.opts.sourceURL,
		MachineID: s.machineID,
		CreatedAt: endedAt,
	})
	if err != nil {
		return "", nil, err
	}

	s.opts.logger.Info("session exported",
		zap.String("session_id", s.sessionID),
		zap.String("path", path),
		zap.Int("events", len(events)),
		zap.String("bundle_hash", final.BundleHash))
	return path, final, nil
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRecording reports whether RecordEvent is currently allowed.
func (s *Session) IsRecording() bool {
	return s.State() == Recording
}

// SessionID returns the id assigned by Start, or "" before it.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Events returns a copy of the recorded events.
func (s *Session) Events() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chain.Events()
}

// sign canonically encodes receipt minus signatures and bundle_hash and
// hands exactly those bytes to the signer.
func sign(sg signer.Signer, receipt any) (*domain.SignatureBlock, error) {
	payload, err := canonical.EncodeWithout(receipt, domain.FieldSignatures, domain.FieldBundleHash)
	if err != nil {
		return nil, fmt.Errorf("encode receipt for signing: %w", err)
	}
	block, err := sg.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign receipt: %w", err)
	}
	return block, nil
}
