package ws

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/odin/gateway/internal/delivery"
	"github.com/odin/gateway/internal/signaling"
)

// callSignals is the discriminator value set that routes a frame to C7
// instead of C8 (spec.md §4.2).
var callSignals = map[string]bool{
	signaling.CallOffer: true, signaling.CallRinging: true, signaling.CallAnswer: true,
	signaling.CallConnected: true, signaling.CallRenegotiate: true, signaling.CallReject: true,
	signaling.CallEnd: true, signaling.CallBusy: true, signaling.CallTimeout: true,
	signaling.CallParticipantAdd: true, signaling.CallParticipantRemove: true,
	signaling.ICECandidate: true,
}

// inboundFrame is the union of every recognized inbound WebSocket shape
// (spec.md §6): a discriminator field distinguishes call-signaling from
// chat.
type inboundFrame struct {
	Signal         string                 `json:"signal"`
	From           string                 `json:"from"`
	To             string                 `json:"to"`
	SessionID      string                 `json:"sessionId"`
	CallType       string                 `json:"callType"`
	NewParticipant string                 `json:"newParticipant"`
	UserID         string                 `json:"userId"`
	Payload        map[string]interface{} `json:"payload"`

	SenderID      string            `json:"senderId"`
	ReceiverID    string            `json:"receiverId"`
	MessageID     string            `json:"messageId"`
	ActualMessage string            `json:"actualMessage"`
	SampleMessage string            `json:"sampleMessage"`
	Files         map[string]string `json:"files"`
	MessageType   string            `json:"messageType"`
	Timestamp     int64             `json:"timestamp"`
}

// Dispatch implements C10: parse the frame as JSON and route to the
// call-signaling engine (C7) or the delivery router (C8) by the presence of
// a recognized "signal" discriminator. fromUserID is the identity
// established at handshake time (§4.1) and always wins over anything the
// client claims in the payload.
func (h *Hub) Dispatch(ctx context.Context, fromUserID string, raw []byte) error {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn().Err(err).Str("userId", fromUserID).Msg("ws: malformed frame dropped")
		return nil
	}

	if f.Signal != "" && callSignals[f.Signal] {
		f.From = fromUserID
		return h.engine.Handle(ctx, signaling.InboundSignal{
			Signal: f.Signal, From: f.From, To: f.To, SessionID: f.SessionID,
			CallType: f.CallType, NewParticipant: f.NewParticipant, UserID: f.UserID, Payload: f.Payload,
		})
	}

	f.SenderID = fromUserID
	if f.SenderID == "" || f.ReceiverID == "" {
		log.Warn().Str("userId", fromUserID).Msg("ws: chat frame missing sender or receiver, dropped")
		return nil
	}

	_, err := h.router.Route(ctx, delivery.Envelope{
		SenderID: f.SenderID, ReceiverID: f.ReceiverID, MessageID: f.MessageID,
		ActualMessage: f.ActualMessage, SampleMessage: f.SampleMessage, Files: f.Files,
		MessageType: f.MessageType, Timestamp: f.Timestamp,
	})
	return err
}
