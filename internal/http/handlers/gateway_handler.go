// Gateway HTTP handlers (spec.md §6's "HTTP SURFACE", thin and non-core next
// to the WebSocket path C9/C10 handles).
//
// This file exposes the REST endpoints that let a caller check presence, send
// a message to an offline-tolerant peer, and manage a receiver's undelivered
// message backlog without opening a socket:
//   - GET    /v1/websocket/user-status/:userId  (no auth)
//   - POST   /v1/websocket/send-message         (bearer)
//   - GET    /v1/messages/undelivered           (bearer, fetch + auto-delete)
//   - DELETE /v1/messages/undelivered           (bearer, explicit delete)
//   - GET    /v1/messages/undelivered/check     (bearer, probe)
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/odin/gateway/internal/delivery"
	"github.com/odin/gateway/internal/undelivered"
)

// PresenceLookup is the narrow presence-directory contract the user-status
// endpoint needs (spec §4.9's Presence entry, keyed by user ID).
type PresenceLookup interface {
	Lookup(ctx context.Context, userID string) (pod string, ok bool, err error)
}

// DeliveryService is the narrow delivery-router contract the send-message
// endpoint needs (spec §4.3's HTTP-originated variant).
type DeliveryService interface {
	DeliverHTTP(ctx context.Context, from, target, body string) (delivery.Result, error)
}

// UndeliveredBacklog is the narrow undelivered-store contract the three
// backlog endpoints need (spec §4.6).
type UndeliveredBacklog interface {
	Fetch(ctx context.Context, receiverID string) ([]undelivered.Envelope, error)
	DeleteAll(ctx context.Context, receiverID string) error
	Has(ctx context.Context, receiverID string) (bool, error)
}

// GatewayHandlers groups the HTTP endpoints that sit alongside the WebSocket
// upgrade route. It depends only on the gateway's own collaborators, through
// the small interfaces declared above.
type GatewayHandlers struct {
	presence PresenceLookup
	delivery DeliveryService
	backlog  UndeliveredBacklog
}

// NewGateway constructs a GatewayHandlers bound to the given collaborators.
func NewGateway(presence PresenceLookup, delivery DeliveryService, backlog UndeliveredBacklog) *GatewayHandlers {
	return &GatewayHandlers{presence: presence, delivery: delivery, backlog: backlog}
}

// UserStatusResponse reports whether a user currently holds a WebSocket
// connection and, if so, which pod owns it.
type UserStatusResponse struct {
	Online bool   `json:"online"`
	Pod    string `json:"pod,omitempty"`
}

// UserStatus godoc
// @ID          userStatus
// @Summary     Look up a user's connection status
// @Tags        Gateway
// @Produce     json
// @Param       userId  path  string  true  "User ID"
// @Success     200  {object}  handlers.UserStatusResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /v1/websocket/user-status/{userId} [get]
func (h *GatewayHandlers) UserStatus(c *gin.Context) {
	target := c.Param("userId")
	pod, online, err := h.presence.Lookup(c.Request.Context(), target)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeLookupFailed, "presence lookup failed")
		return
	}
	ok(c, http.StatusOK, UserStatusResponse{Online: online, Pod: pod})
}

// SendMessageRequest is the JSON payload for the HTTP send-message endpoint.
// The message field is named actualMessage, matching original_source's
// SendMessageRequest DTO (read via request.getActualMessage() in
// MessageController.sendMessage) rather than the shorter name a fresh design
// would pick.
type SendMessageRequest struct {
	ReceiverID    string `json:"receiverId" binding:"required"`
	ActualMessage string `json:"actualMessage" binding:"required"`
}

// SendMessageResponse reports how the router routed the message.
type SendMessageResponse struct {
	Result string `json:"result"`
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message to a peer over HTTP instead of a socket
// @Tags        Gateway
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.SendMessageRequest  true  "Message payload"
// @Success     200  {object}  handlers.SendMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Receiver has no active session"
// @Failure     409  {object}  handlers.ErrorResponse  "Receiver online on another pod but relay failed"
// @Router      /v1/websocket/send-message [post]
func (h *GatewayHandlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ReceiverID) == "" || strings.TrimSpace(req.ActualMessage) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "receiverId and actualMessage are required")
		return
	}

	result, err := h.delivery.DeliverHTTP(c.Request.Context(), userID(c), req.ReceiverID, req.ActualMessage)
	if err != nil {
		fail(c, http.StatusConflict, ErrCodeDeliveryFailed, "receiver is online but delivery failed")
		return
	}
	if result == delivery.Dropped {
		fail(c, http.StatusNotFound, ErrCodeReceiverOffline, "receiver has no active session")
		return
	}
	ok(c, http.StatusOK, SendMessageResponse{Result: result.String()})
}

// UndeliveredResponse wraps a receiver's stored backlog (spec §6).
type UndeliveredResponse struct {
	Messages    []undelivered.Envelope `json:"messages"`
	TotalCount  int                    `json:"totalCount"`
	HasMessages bool                   `json:"hasMessages"`
}

// FetchUndelivered godoc
// @ID          fetchUndelivered
// @Summary     Fetch and clear the caller's undelivered messages
// @Tags        Gateway
// @Produce     json
// @Success     200  {object}  handlers.UndeliveredResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /v1/messages/undelivered [get]
func (h *GatewayHandlers) FetchUndelivered(c *gin.Context) {
	receiverID := userID(c)
	msgs, err := h.backlog.Fetch(c.Request.Context(), receiverID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to fetch undelivered messages")
		return
	}
	if len(msgs) > 0 {
		if err := h.backlog.DeleteAll(c.Request.Context(), receiverID); err != nil {
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to clear undelivered messages")
			return
		}
	}
	ok(c, http.StatusOK, UndeliveredResponse{Messages: msgs, TotalCount: len(msgs), HasMessages: len(msgs) > 0})
}

// DeleteUndelivered godoc
// @ID          deleteUndelivered
// @Summary     Explicitly clear the caller's undelivered messages
// @Tags        Gateway
// @Success     204  {string}  string  "No Content"
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /v1/messages/undelivered [delete]
func (h *GatewayHandlers) DeleteUndelivered(c *gin.Context) {
	if err := h.backlog.DeleteAll(c.Request.Context(), userID(c)); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to clear undelivered messages")
		return
	}
	noContent(c)
}

// CheckUndeliveredResponse reports whether the caller has any backlog
// without consuming it.
type CheckUndeliveredResponse struct {
	HasMessages bool   `json:"hasMessages"`
	ReceiverID  string `json:"receiverId"`
}

// CheckUndelivered godoc
// @ID          checkUndelivered
// @Summary     Probe whether the caller has undelivered messages
// @Tags        Gateway
// @Produce     json
// @Success     200  {object}  handlers.CheckUndeliveredResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /v1/messages/undelivered/check [get]
func (h *GatewayHandlers) CheckUndelivered(c *gin.Context) {
	receiverID := userID(c)
	has, err := h.backlog.Has(c.Request.Context(), receiverID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "failed to check undelivered messages")
		return
	}
	ok(c, http.StatusOK, CheckUndeliveredResponse{HasMessages: has, ReceiverID: receiverID})
}
