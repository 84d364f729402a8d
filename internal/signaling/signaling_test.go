package signaling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/odin/gateway/internal/profile"
)

type fakeProfiles map[string]*profile.Profile

func (f fakeProfiles) Get(ctx context.Context, digest, rawID string) (*profile.Profile, bool) {
	p, ok := f[rawID]
	return p, ok
}

type fakeSink struct {
	mu  sync.Mutex
	out []OutboundSignal
}

func (f *fakeSink) SendSignal(ctx context.Context, out OutboundSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, out)
	return nil
}

func (f *fakeSink) signals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.out))
	for i, o := range f.out {
		out[i] = o.Signal
	}
	return out
}

func TestEngine_CallOfferCreatesSession(t *testing.T) {
	sink := &fakeSink{}
	e := New(sink, nil)
	err := e.Handle(context.Background(), InboundSignal{Signal: CallOffer, From: "a", To: "b", SessionID: "s1", CallType: "audio"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if _, ok := e.get("s1"); !ok {
		t.Fatalf("session s1 not created")
	}
	if got := sink.signals(); len(got) != 1 || got[0] != CallOffer {
		t.Fatalf("forwarded signals = %v, want [CALL_OFFER]", got)
	}
}

func TestEngine_UnknownSessionDroppedExceptOffer(t *testing.T) {
	sink := &fakeSink{}
	e := New(sink, nil)
	err := e.Handle(context.Background(), InboundSignal{Signal: CallRinging, SessionID: "ghost"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(sink.signals()) != 0 {
		t.Fatalf("expected no forwards for unknown session, got %v", sink.signals())
	}
}

func TestEngine_ICEBuffering_Scenario(t *testing.T) {
	sink := &fakeSink{}
	e := New(sink, nil)
	ctx := context.Background()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Handle() error = %v", err)
		}
	}

	must(e.Handle(ctx, InboundSignal{Signal: CallOffer, From: "a", To: "b", SessionID: "s1"}))
	must(e.Handle(ctx, InboundSignal{Signal: ICECandidate, From: "a", To: "b", SessionID: "s1", Payload: map[string]interface{}{"c": "c1"}}))
	must(e.Handle(ctx, InboundSignal{Signal: ICECandidate, From: "a", To: "b", SessionID: "s1", Payload: map[string]interface{}{"c": "c2"}}))
	must(e.Handle(ctx, InboundSignal{Signal: CallAnswer, From: "b", To: "a", SessionID: "s1"}))
	must(e.Handle(ctx, InboundSignal{Signal: ICECandidate, From: "b", To: "a", SessionID: "s1", Payload: map[string]interface{}{"c": "c3"}}))

	got := sink.signals()
	want := []string{CallOffer, CallAnswer, ICECandidate, ICECandidate, ICECandidate}
	if len(got) != len(want) {
		t.Fatalf("forwarded signals = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("forwarded signals = %v, want %v", got, want)
		}
	}

	// c1, c2 arrived before answer and must flush in arrival order.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	c1 := sink.out[2].Payload["c"]
	c2 := sink.out[3].Payload["c"]
	c3 := sink.out[4].Payload["c"]
	if c1 != "c1" || c2 != "c2" || c3 != "c3" {
		t.Fatalf("ICE candidates out of order: %v, %v, %v", c1, c2, c3)
	}
}

func TestEngine_ICECandidate_ForwardedImmediatelyWhenBothDelivered(t *testing.T) {
	sink := &fakeSink{}
	e := New(sink, nil)
	ctx := context.Background()

	_ = e.Handle(ctx, InboundSignal{Signal: CallOffer, From: "a", To: "b", SessionID: "s1"})
	_ = e.Handle(ctx, InboundSignal{Signal: CallAnswer, From: "b", To: "a", SessionID: "s1"})
	_ = e.Handle(ctx, InboundSignal{Signal: ICECandidate, From: "a", To: "b", SessionID: "s1"})

	got := sink.signals()
	if len(got) != 3 || got[2] != ICECandidate {
		t.Fatalf("forwarded signals = %v, want offer, answer, ice", got)
	}
}

func TestEngine_TerminalCleanup(t *testing.T) {
	sink := &fakeSink{}
	e := New(sink, nil)
	ctx := context.Background()

	_ = e.Handle(ctx, InboundSignal{Signal: CallOffer, From: "a", To: "b", SessionID: "s1"})
	_ = e.Handle(ctx, InboundSignal{Signal: CallEnd, From: "a", To: "b", SessionID: "s1"})

	if _, ok := e.get("s1"); !ok {
		t.Fatalf("session should still exist immediately after terminal signal")
	}

	time.Sleep(5100 * time.Millisecond)

	if _, ok := e.get("s1"); ok {
		t.Fatalf("session should be removed 5s after terminal state")
	}

	// A further signal for the now-gone session (other than CALL_OFFER) is
	// dropped with a warning, not an error.
	if err := e.Handle(ctx, InboundSignal{Signal: CallRinging, SessionID: "s1"}); err != nil {
		t.Fatalf("Handle() after cleanup error = %v, want nil (dropped)", err)
	}
}

func TestEngine_ParticipantAddRemove(t *testing.T) {
	sink := &fakeSink{}
	e := New(sink, nil)
	ctx := context.Background()

	_ = e.Handle(ctx, InboundSignal{Signal: CallOffer, From: "a", To: "b", SessionID: "s1"})
	_ = e.Handle(ctx, InboundSignal{Signal: CallParticipantAdd, SessionID: "s1", NewParticipant: "c"})

	cs, _ := e.get("s1")
	cs.mu.Lock()
	_, hasC := cs.participants["c"]
	cs.mu.Unlock()
	if !hasC {
		t.Fatalf("participant c not added")
	}

	_ = e.Handle(ctx, InboundSignal{Signal: CallParticipantRemove, SessionID: "s1", UserID: "c"})
	cs.mu.Lock()
	_, hasC = cs.participants["c"]
	cs.mu.Unlock()
	if hasC {
		t.Fatalf("participant c not removed")
	}
}

func TestEngine_ForwardEnrichesWithSenderProfile(t *testing.T) {
	sink := &fakeSink{}
	profiles := fakeProfiles{
		"a": {Mobile: "555-0100", FirstName: "Ada", LastName: "Lovelace"},
	}
	e := New(sink, profiles)
	ctx := context.Background()

	_ = e.Handle(ctx, InboundSignal{Signal: CallOffer, From: "a", To: "b", SessionID: "s1", CallType: "audio"})
	_ = e.Handle(ctx, InboundSignal{Signal: CallRinging, From: "b", To: "a", SessionID: "s1"})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.out) != 2 {
		t.Fatalf("forwarded %d signals, want 2", len(sink.out))
	}
	offer := sink.out[0]
	if offer.SenderMobile != "555-0100" || offer.SenderName != "Ada Lovelace" {
		t.Fatalf("CALL_OFFER not enriched: %+v", offer)
	}
	// The ringing signal comes from "b", who has no profile entry: enrichment
	// is skipped rather than dropping the frame.
	ringing := sink.out[1]
	if ringing.SenderMobile != "" || ringing.SenderName != "" {
		t.Fatalf("CALL_RINGING should be unenriched for unknown sender: %+v", ringing)
	}
}
