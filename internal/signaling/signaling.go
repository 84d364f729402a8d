// Package signaling implements the WebRTC call-signaling state machine with
// ICE-candidate buffering, grounded on original_source's
// MessageService.handleSignalWithProfile and CallSessionRegistryService.
package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/odin/gateway/internal/profile"
)

// Signal names recognized on the "signal" discriminator field (spec §4.5,
// §6). ICECandidate is handled outside the state table since it applies
// regardless of current state.
const (
	CallOffer            = "CALL_OFFER"
	CallRinging          = "CALL_RINGING"
	CallAnswer           = "CALL_ANSWER"
	CallConnected        = "CALL_CONNECTED"
	CallRenegotiate      = "CALL_RENEGOTIATE"
	CallReject           = "CALL_REJECT"
	CallEnd              = "CALL_END"
	CallBusy             = "CALL_BUSY"
	CallTimeout          = "CALL_TIMEOUT"
	CallParticipantAdd   = "CALL_PARTICIPANT_ADD"
	CallParticipantRemove = "CALL_PARTICIPANT_REMOVE"
	ICECandidate         = "ICE_CANDIDATE"
)

// terminalStates schedules the call session for removal 5s after being
// entered (spec §3).
var terminalStates = map[string]bool{
	"REJECTED": true,
	"ENDED":    true,
	"BUSY":     true,
	"TIMEOUT":  true,
}

// cleanupDelay matches original_source's CLEANUP_DELAY_MS.
const cleanupDelay = 5 * time.Second

// terminalStateFor maps a terminal signal to the state it produces.
var terminalStateFor = map[string]string{
	CallReject: "REJECTED", CallEnd: "ENDED", CallBusy: "BUSY", CallTimeout: "TIMEOUT",
}

// InboundSignal is one parsed signaling frame (spec §6's call-signaling
// inbound shape).
type InboundSignal struct {
	Signal        string
	From          string
	To            string
	SessionID     string
	CallType      string
	NewParticipant string
	UserID        string // for CALL_PARTICIPANT_REMOVE
	Payload       map[string]interface{}
}

// OutboundSignal is what the engine hands to the Sink for delivery to the
// "to" participant. SenderMobile/SenderName are populated by the engine
// itself from the "from" participant's profile before every send, mirroring
// original_source's handleSignalWithProfile enriching its response map once
// per inbound signal regardless of which case in the switch produced it.
type OutboundSignal struct {
	Signal       string                 `json:"signal"`
	To           string                 `json:"to"`
	From         string                 `json:"from"`
	SessionID    string                 `json:"sessionId,omitempty"`
	CallType     string                 `json:"callType,omitempty"`
	State        string                 `json:"state,omitempty"`
	Participants []string               `json:"participants,omitempty"`
	Renegotiate  bool                   `json:"renegotiate,omitempty"`
	SenderMobile string                 `json:"senderMobile,omitempty"`
	SenderName   string                 `json:"senderName,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// Sink is the narrow outbound abstraction the engine depends on instead of
// the delivery router directly, breaking the C7<->C8 cycle present in
// original_source (spec §9's "outbound sink" redesign flag).
type Sink interface {
	SendSignal(ctx context.Context, out OutboundSignal) error
}

// ProfileLookup is C4's contract, narrowed to what the engine needs to
// enrich a forwarded signal with the sender's mobile/display name.
type ProfileLookup interface {
	Get(ctx context.Context, digest, rawID string) (*profile.Profile, bool)
}

type iceBuffer struct {
	offerDelivered  bool
	answerDelivered bool
	queued          []InboundSignal
}

type callSession struct {
	mu           sync.Mutex
	sessionID    string
	callType     string
	initiatedBy  string
	state        string
	participants map[string]struct{}
	ice          iceBuffer
}

func newCallSession(sessionID, callType, initiatedBy, to string) *callSession {
	cs := &callSession{
		sessionID:   sessionID,
		callType:    callType,
		initiatedBy: initiatedBy,
		state:       "OFFERED",
		participants: map[string]struct{}{
			initiatedBy: {},
			to:          {},
		},
	}
	cs.ice.offerDelivered = true
	return cs
}

func (cs *callSession) roster() []string {
	out := make([]string, 0, len(cs.participants))
	for p := range cs.participants {
		out = append(out, p)
	}
	return out
}

// Engine holds all active call sessions on this pod, keyed by session ID.
// Per spec §5, mutation of a single session is not externally synchronized
// beyond the session's own mutex: the design assumes one logical caller per
// session at a time.
type Engine struct {
	sink     Sink
	profiles ProfileLookup
	mu       sync.Mutex
	sessions map[string]*callSession
}

// New builds an Engine that forwards resolved signals through sink, enriched
// with the sender's profile via profiles before each send.
func New(sink Sink, profiles ProfileLookup) *Engine {
	return &Engine{sink: sink, profiles: profiles, sessions: make(map[string]*callSession)}
}

func (e *Engine) get(sessionID string) (*callSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, ok := e.sessions[sessionID]
	return cs, ok
}

func (e *Engine) put(cs *callSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions[cs.sessionID] = cs
	activeCallSessions.Set(float64(len(e.sessions)))
}

func (e *Engine) delete(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
	activeCallSessions.Set(float64(len(e.sessions)))
}

// scheduleCleanup arranges for sessionID to be dropped cleanupDelay after a
// terminal state, tolerant of the session already being gone at fire time
// (spec §4.5: "the core treats a missing session at that moment as a
// no-op").
func (e *Engine) scheduleCleanup(sessionID string) {
	time.AfterFunc(cleanupDelay, func() {
		e.delete(sessionID)
	})
}

// Handle dispatches one inbound signal through the transition table of
// spec §4.5. Unknown session + signal other than CALL_OFFER is logged and
// dropped without error, matching original_source's tolerant behavior for
// stale/racing signals.
func (e *Engine) Handle(ctx context.Context, sig InboundSignal) error {
	if sig.Signal == ICECandidate {
		return e.handleICE(ctx, sig)
	}

	cs, exists := e.get(sig.SessionID)
	if !exists {
		if sig.Signal != CallOffer {
			log.Warn().Str("sessionId", sig.SessionID).Str("signal", sig.Signal).
				Msg("signaling: signal for unknown session dropped")
			return nil
		}
		cs = newCallSession(sig.SessionID, sig.CallType, sig.From, sig.To)
		e.put(cs)
		return e.forward(ctx, cs, OutboundSignal{
			Signal: CallOffer, To: sig.To, From: sig.From, SessionID: sig.SessionID,
			CallType: sig.CallType, State: cs.state, Participants: cs.roster(), Payload: sig.Payload,
		})
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch sig.Signal {
	case CallRinging:
		cs.state = "RINGING"
		return e.forwardLocked(ctx, cs, OutboundSignal{
			Signal: sig.Signal, To: sig.To, From: sig.From, SessionID: sig.SessionID,
			State: cs.state, Payload: sig.Payload,
		})

	case CallAnswer:
		cs.state = "ANSWERED"
		cs.ice.answerDelivered = true
		out := OutboundSignal{
			Signal: sig.Signal, To: sig.To, From: sig.From, SessionID: sig.SessionID,
			State: cs.state, Payload: sig.Payload,
		}
		if err := e.forwardLocked(ctx, cs, out); err != nil {
			return err
		}
		return e.flushICELocked(ctx, cs, sig.To, sig.From)

	case CallConnected:
		cs.state = "CONNECTED"
		return e.forwardLocked(ctx, cs, OutboundSignal{
			Signal: sig.Signal, To: sig.To, From: sig.From, SessionID: sig.SessionID,
			CallType: cs.callType, State: cs.state, Participants: cs.roster(), Payload: sig.Payload,
		})

	case CallRenegotiate:
		cs.state = "RENEGOTIATING"
		return e.forwardLocked(ctx, cs, OutboundSignal{
			Signal: sig.Signal, To: sig.To, From: sig.From, SessionID: sig.SessionID,
			State: cs.state, Participants: cs.roster(), Renegotiate: true, Payload: sig.Payload,
		})

	case CallReject, CallEnd, CallBusy, CallTimeout:
		cs.state = terminalStateFor[sig.Signal]
		if err := e.forwardLocked(ctx, cs, OutboundSignal{
			Signal: sig.Signal, To: sig.To, From: sig.From, SessionID: sig.SessionID,
			State: cs.state, Payload: sig.Payload,
		}); err != nil {
			return err
		}
		if terminalStates[cs.state] {
			e.scheduleCleanup(sig.SessionID)
		}
		return nil

	case CallParticipantAdd:
		if sig.NewParticipant == "" {
			log.Warn().Str("sessionId", sig.SessionID).Msg("signaling: CALL_PARTICIPANT_ADD missing newParticipant")
			return nil
		}
		cs.participants[sig.NewParticipant] = struct{}{}
		return e.forwardLocked(ctx, cs, OutboundSignal{
			Signal: sig.Signal, To: sig.To, From: sig.From, SessionID: sig.SessionID,
			Participants: cs.roster(), Payload: sig.Payload,
		})

	case CallParticipantRemove:
		if sig.UserID == "" {
			log.Warn().Str("sessionId", sig.SessionID).Msg("signaling: CALL_PARTICIPANT_REMOVE missing userId")
			return nil
		}
		delete(cs.participants, sig.UserID)
		return e.forwardLocked(ctx, cs, OutboundSignal{
			Signal: sig.Signal, To: sig.To, From: sig.From, SessionID: sig.SessionID,
			Participants: cs.roster(), Payload: sig.Payload,
		})

	default:
		log.Warn().Str("sessionId", sig.SessionID).Str("signal", sig.Signal).
			Msg("signaling: unrecognized signal dropped")
		return nil
	}
}

func (e *Engine) handleICE(ctx context.Context, sig InboundSignal) error {
	cs, exists := e.get(sig.SessionID)
	if !exists {
		log.Warn().Str("sessionId", sig.SessionID).Msg("signaling: ICE_CANDIDATE for unknown session dropped")
		return nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ice.offerDelivered && cs.ice.answerDelivered {
		return e.forwardLocked(ctx, cs, OutboundSignal{
			Signal: ICECandidate, To: sig.To, From: sig.From, SessionID: sig.SessionID, Payload: sig.Payload,
		})
	}
	cs.ice.queued = append(cs.ice.queued, sig)
	return nil
}

// flushICELocked forwards buffered ICE candidates in arrival order once
// both offer and answer have been delivered (spec §3, §4.5).
func (e *Engine) flushICELocked(ctx context.Context, cs *callSession, to, from string) error {
	if !(cs.ice.offerDelivered && cs.ice.answerDelivered) {
		return nil
	}
	pending := cs.ice.queued
	cs.ice.queued = nil
	for _, cand := range pending {
		if err := e.forwardLocked(ctx, cs, OutboundSignal{
			Signal: ICECandidate, To: cand.To, From: cand.From, SessionID: cs.sessionID, Payload: cand.Payload,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) forward(ctx context.Context, cs *callSession, out OutboundSignal) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return e.forwardLocked(ctx, cs, out)
}

func (e *Engine) forwardLocked(ctx context.Context, cs *callSession, out OutboundSignal) error {
	e.enrich(ctx, &out)
	if err := e.sink.SendSignal(ctx, out); err != nil {
		log.Error().Err(err).Str("sessionId", out.SessionID).Str("signal", out.Signal).
			Msg("signaling: forward failed")
		return err
	}
	return nil
}

// enrich stamps out with the "from" participant's mobile/display name,
// matching original_source's handleSignalWithProfile hashing "from" and
// loading its profile once before building the response, applied uniformly
// regardless of signal type. A missing "from" or a failed lookup leaves the
// fields empty rather than dropping the frame: unlike a chat message, a
// signaling frame with no sender profile still needs to reach its peer for
// the call to proceed.
func (e *Engine) enrich(ctx context.Context, out *OutboundSignal) {
	if out.From == "" || e.profiles == nil {
		return
	}
	digest := profile.Digest(out.From)
	p, ok := e.profiles.Get(ctx, digest, out.From)
	if !ok {
		return
	}
	out.SenderMobile = p.Mobile
	out.SenderName = displayName(p)
}

func displayName(p *profile.Profile) string {
	if p.FirstName == "" && p.LastName == "" {
		return ""
	}
	if p.LastName == "" {
		return p.FirstName
	}
	if p.FirstName == "" {
		return p.LastName
	}
	return p.FirstName + " " + p.LastName
}
