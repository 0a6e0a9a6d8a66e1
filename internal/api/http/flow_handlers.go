package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/execution-hub/exchange-withdraw/internal/application/client"
	"github.com/execution-hub/exchange-withdraw/internal/application/session"
	"github.com/execution-hub/exchange-withdraw/internal/domain/exchange"
	"github.com/execution-hub/exchange-withdraw/internal/domain/flow"
	"github.com/execution-hub/exchange-withdraw/internal/domain/journal"
	"github.com/execution-hub/exchange-withdraw/internal/domain/machine"
	"github.com/execution-hub/exchange-withdraw/internal/infrastructure/sse"
)

type createFlowRequest struct {
	OrgID     string `json:"orgId"`
	ProjectID string `json:"projectId"`
}

type startOAuthRequest struct {
	Exchange string `json:"exchange"`
	WalletID string `json:"walletId"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type publishMessageRequest struct {
	Type    exchange.MessageType `json:"type"`
	Payload json.RawMessage      `json:"payload,omitempty"`
}

type flowResponse struct {
	FlowID    uuid.UUID    `json:"flowId"`
	State     flow.State   `json:"state"`
	Context   flow.Context `json:"context"`
	Error     string       `json:"error,omitempty"`
	Terminal  bool         `json:"terminal"`
	CreatedAt time.Time    `json:"createdAt"`
}

type journalResponse struct {
	Entries []*journal.Entry `json:"entries"`
}

func newFlowResponse(id uuid.UUID, createdAt time.Time, snap flow.Snapshot) flowResponse {
	resp := flowResponse{
		FlowID:    id,
		State:     snap.State,
		Context:   snap.Context,
		Terminal:  snap.State.IsTerminal(),
		CreatedAt: createdAt,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	return resp
}

func (s *Server) createFlow(w http.ResponseWriter, r *http.Request) {
	var req createFlowRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	sess, err := s.registry.Create(req.OrgID, req.ProjectID)
	if err != nil {
		if errors.Is(err, session.ErrClosed) {
			respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.respondSnapshot(w, http.StatusCreated, sess)
}

func (s *Server) getFlow(w http.ResponseWriter, r *http.Request) {
	s.respondSnapshot(w, http.StatusOK, sessionFromContext(r.Context()))
}

func (s *Server) deleteFlow(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if err := sess.Client.Cancel(); err != nil && !errors.Is(err, client.ErrNotAllowed) && !errors.Is(err, machine.ErrDisposed) {
		s.logger.Warn().Err(err).Str("flow_id", sess.ID.String()).Msg("cancel before delete failed")
	}
	if err := s.registry.Remove(sess.ID); err != nil && !errors.Is(err, session.ErrFlowNotFound) {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusNotFound, "JOURNAL_DISABLED", "flow journal is not enabled")
		return
	}
	sess := sessionFromContext(r.Context())
	entries, err := s.journal.ListByFlow(r.Context(), sess.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, journalResponse{Entries: entries})
}

func (s *Server) loadExchanges(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, func(ctx context.Context, c *client.Client) error {
		return c.LoadExchanges(ctx)
	})
}

func (s *Server) startOAuth(w http.ResponseWriter, r *http.Request) {
	var req startOAuthRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.Exchange == "" || req.WalletID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "exchange and walletId are required")
		return
	}
	s.runAction(w, r, func(ctx context.Context, c *client.Client) error {
		return c.StartOAuth(ctx, req.Exchange, req.WalletID)
	})
}

func (s *Server) loadWallet(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, func(ctx context.Context, c *client.Client) error {
		return c.LoadWallet(ctx)
	})
}

func (s *Server) requestQuote(w http.ResponseWriter, r *http.Request) {
	var req exchange.QuoteRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	s.runAction(w, r, func(ctx context.Context, c *client.Client) error {
		return c.RequestQuote(ctx, req)
	})
}

func (s *Server) executeWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, func(ctx context.Context, c *client.Client) error {
		return c.ExecuteWithdrawal(ctx)
	})
}

func (s *Server) submit2FA(w http.ResponseWriter, r *http.Request) {
	code, ok := decodeCode(w, r)
	if !ok {
		return
	}
	s.runAction(w, r, func(ctx context.Context, c *client.Client) error {
		return c.Submit2FA(ctx, code)
	})
}

func (s *Server) submitSMS(w http.ResponseWriter, r *http.Request) {
	code, ok := decodeCode(w, r)
	if !ok {
		return
	}
	s.runAction(w, r, func(ctx context.Context, c *client.Client) error {
		return c.SubmitSMS(ctx, code)
	})
}

func (s *Server) retryWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, func(ctx context.Context, c *client.Client) error {
		return c.RetryWithdrawal(ctx)
	})
}

func (s *Server) cancelFlow(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, func(_ context.Context, c *client.Client) error {
		return c.Cancel()
	})
}

func (s *Server) publishMessage(w http.ResponseWriter, r *http.Request) {
	topic := strings.TrimSpace(chi.URLParam(r, "topic"))
	var req publishMessageRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if topic == "" || req.Type == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "topic and type are required")
		return
	}
	msg := exchange.Message{Topic: topic, Type: req.Type, Payload: req.Payload}
	if err := s.bus.Publish(r.Context(), msg); err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("relay publish failed")
		respondError(w, http.StatusBadGateway, "PUBLISH_FAILED", err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	stream := sse.NewClient(sess.ID)
	s.streams.Register(stream)
	defer s.streams.Unregister(stream.ClientID)

	unsub, err := sess.Client.Subscribe(func(snap flow.Snapshot) {
		data, err := json.Marshal(newFlowResponse(sess.ID, sess.CreatedAt, snap))
		if err != nil {
			return
		}
		if err := s.streams.SendToClient(stream.ClientID, sse.NewMessage("snapshot", data)); err != nil {
			s.logger.Warn().Err(err).Str("flow_id", sess.ID.String()).Str("state", string(snap.State)).Msg("snapshot not streamed")
		}
	})
	if err != nil {
		s.respondClientError(w, err)
		return
	}
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, open := <-stream.MessageChan:
			if !open {
				return
			}
			_, _ = fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", msg.ID, msg.Event, msg.Data)
			flusher.Flush()
			var snap flowResponse
			if json.Unmarshal(msg.Data, &snap) == nil && snap.Terminal {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, *client.Client) error) {
	sess := sessionFromContext(r.Context())
	if err := fn(r.Context(), sess.Client); err != nil {
		s.respondClientError(w, err)
		return
	}
	s.respondSnapshot(w, http.StatusOK, sess)
}

func (s *Server) respondSnapshot(w http.ResponseWriter, status int, sess *session.Session) {
	snap, err := sess.Client.State()
	if err != nil {
		s.respondClientError(w, err)
		return
	}
	respondJSON(w, status, newFlowResponse(sess.ID, sess.CreatedAt, snap))
}

func (s *Server) respondClientError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, client.ErrNotAllowed):
		respondError(w, http.StatusConflict, "NOT_ALLOWED", err.Error())
	case errors.Is(err, machine.ErrDisposed):
		respondError(w, http.StatusGone, "FLOW_DISPOSED", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func decodeCode(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req codeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return "", false
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "code is required")
		return "", false
	}
	return code, true
}
