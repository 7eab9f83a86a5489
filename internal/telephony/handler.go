// Package telephony is the carrier transport adapter: a gin webhook handler
// that answers Twilio's inbound-call webhook, upgrades the media-stream
// WebSocket, and wires the resulting connection into callsession.Session
// and bridge.Bridge. Adapted from the teacher's
// internal/telephony/twilio/twilio.go (credential/client construction) and
// internal/channel/telephony/internal/sip/telephony.go's webhook
// query-param extraction shape. TwiML body construction and webhook
// signature validation are explicitly out of scope (SPEC_FULL.md §1); the
// TwiML emitted here is the minimal fixed "<Connect><Stream>" envelope
// needed to point the carrier at our own WS endpoint, not a general
// response-building facility.
package telephony

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/twilio/twilio-go"

	"github.com/fluentvoice/gateway/internal/bridge"
	"github.com/fluentvoice/gateway/internal/callregistry"
	"github.com/fluentvoice/gateway/internal/callsession"
	"github.com/fluentvoice/gateway/internal/codec"
	"github.com/fluentvoice/gateway/internal/logging"
	"github.com/fluentvoice/gateway/internal/postcall"
)

// Credentials holds the Twilio account credentials used to build a REST
// client for outbound-call/status-lookup use, matching the teacher's
// ClientParam shape (there: read from a per-tenant vault credential; here:
// bound once from process configuration, since this gateway serves a
// single carrier account).
type Credentials struct {
	AccountSID string
	AuthToken  string
}

// Client builds a Twilio REST client from the bound credentials, mirroring
// internal_twilio_telephony.twl.Client.
func (c Credentials) Client() *twilio.RestClient {
	return twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: c.AccountSID,
		Password: c.AuthToken,
	})
}

// Handler wires the carrier-facing HTTP/WS surface to the call session and
// bridge machinery.
type Handler struct {
	Session     *callsession.Session
	Registry    *callregistry.Registry
	PostCall    *postcall.Processor
	Resampler   codec.Resampler
	Logger      logging.Logger
	MediaWSPath string // e.g. "wss://gateway.example.com/v1/voice/media-stream"
	Twilio      Credentials

	upgrader websocket.Upgrader
}

// New builds a Handler. MediaWSPath is the externally-reachable wss:// URL
// this process's own /v1/voice/media-stream route resolves to, used in the TwiML
// response so the carrier knows where to open the media stream.
func New(session *callsession.Session, registry *callregistry.Registry, pc *postcall.Processor, resampler codec.Resampler, logger logging.Logger, mediaWSPath string) *Handler {
	return &Handler{
		Session:     session,
		Registry:    registry,
		PostCall:    pc,
		Resampler:   resampler,
		Logger:      logger,
		MediaWSPath: mediaWSPath,
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// WithTwilioCredentials binds the account credentials used to build a REST
// client (Credentials.Client) for any future outbound-call/account
// operations the telephony layer needs. Returns h for chaining.
func (h *Handler) WithTwilioCredentials(creds Credentials) *Handler {
	h.Twilio = creds
	return h
}

// RegisterRoutes mounts the webhook and media-stream endpoints on engine,
// matching the path shape of the teacher's TalkCallbackApiRoute group.
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	group := engine.Group("/v1/voice")
	group.POST("/twilio/call", h.InboundCallWebhook)
	group.POST("/twilio/status", h.StatusCallback)
	group.GET("/media-stream", h.MediaStream)
}

// InboundCallWebhook answers Twilio's inbound-call POST with TwiML that
// opens a bidirectional media stream back to this process. Signature
// validation of the inbound webhook is a non-goal (SPEC_FULL.md §1); a
// production deployment should verify X-Twilio-Signature upstream (e.g. at
// an API gateway) before this handler is reached.
func (h *Handler) InboundCallWebhook(c *gin.Context) {
	twiml := fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><Response><Connect><Stream url="%s"/></Connect></Response>`,
		h.MediaWSPath,
	)
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(twiml))
}

// StatusCallback handles Twilio's async call-status webhook (e.g.
// "completed", "failed"), which can arrive after the media stream itself
// has already closed. It only uses the registry to cancel a still-live
// call on a terminal status; a miss (call already finished and removed) is
// expected and not an error, matching the teacher's callcontext.Store.Get
// semantics for late callbacks.
func (h *Handler) StatusCallback(c *gin.Context) {
	callSid := c.PostForm("CallSid")
	status := c.PostForm("CallStatus")

	switch status {
	case "completed", "failed", "busy", "no-answer", "canceled":
		h.Registry.CancelAndRemove(callSid)
	default:
		// in-progress, ringing, queued, etc: nothing to do yet.
	}
	c.Status(http.StatusNoContent)
}

// MediaStream upgrades the carrier's media-stream request to a WebSocket,
// establishes the AI-side session (SPEC_FULL.md §4.5), runs the bridge
// (§4.6) to completion, and schedules post-call processing (§4.7) exactly
// once regardless of which side closed first.
func (h *Handler) MediaStream(c *gin.Context) {
	callSid := c.Query("CallSid")
	caller := c.Query("From")

	carrierConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warnw("telephony: carrier ws upgrade failed", "error", err)
		return
	}
	defer carrierConn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	call, aiConn, err := h.Session.Establish(ctx, caller)
	if err != nil {
		h.Logger.Errorw("telephony: call setup failed", "call_sid", callSid, "error", err)
		return
	}
	defer aiConn.Close()

	h.Registry.Register(callSid, &callregistry.Entry{
		CallSid:        callSid,
		ConversationID: call.ConversationID,
		UserID:         call.UserID,
		CancelFunc:     cancel,
	})
	defer h.Registry.Remove(callSid)

	br := &bridge.Bridge{
		Call:        call,
		CarrierConn: carrierConn,
		AIConn:      aiConn,
		Resampler:   h.Resampler,
		Logger:      h.Logger,
	}
	if err := br.Run(ctx); err != nil {
		h.Logger.Infow("telephony: bridge ended with error", "call_sid", callSid, "error", err)
	}

	// Post-call processing is fire-and-forget and detached from this
	// request's context: it must still run even though the carrier WS
	// (and this handler's own context) is already torn down
	// (SPEC_FULL.md §4.7, §9).
	go h.PostCall.Run(context.Background(), call.ConversationID, call.UserID, call.Transcript)
}
