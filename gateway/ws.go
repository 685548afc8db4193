package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"nodegate/cosign"
)

// Websocket event names.
const (
	eventGetTxToClaim = "get-tx-to-claim"
	eventSignAndSend  = "sign-and-send"
	eventTxStatus     = "tx-status"
)

// Transaction status values pushed over the channel.
const (
	txStatusPending   = "pending"
	txStatusConfirmed = "confirmed"
	txStatusFailed    = "failed"
)

type wsEnvelope struct {
	Event     string          `json:"event"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type txStatusEvent struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
}

// wsWriter serializes concurrent writes to one websocket connection; status
// events raced by the read loop and broadcast goroutines share it.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) write(ctx context.Context, v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return wsjson.Write(ctx, w.conn, v)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	closeStatus := websocket.StatusInternalError
	defer func() { conn.Close(closeStatus, "") }()

	ctx := r.Context()
	writer := &wsWriter{conn: conn}
	for {
		var env wsEnvelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			// Client went away; not a server fault.
			closeStatus = websocket.StatusNormalClosure
			return
		}
		if env.RequestID == "" {
			env.RequestID = uuid.NewString()
		}
		s.metrics.observeWSEvent(env.Event)

		switch env.Event {
		case eventGetTxToClaim:
			s.wsPrepare(ctx, writer, env)
		case eventSignAndSend:
			s.wsSignAndSend(ctx, writer, env)
		default:
			resp, _ := json.Marshal(map[string]string{"error": "unknown event"})
			_ = writer.write(ctx, wsEnvelope{Event: env.Event, RequestID: env.RequestID, Data: resp})
		}
	}
}

// wsPrepare mirrors the prepare-transaction HTTP contract over the channel.
func (s *Server) wsPrepare(ctx context.Context, writer *wsWriter, env wsEnvelope) {
	var head struct {
		Action string `json:"action"`
	}
	_ = json.Unmarshal(env.Data, &head)
	if head.Action == "" {
		head.Action = string(cosign.ActionClaimRewards)
	}

	var resp prepareResponse
	action, err := cosign.ParseAction(head.Action)
	if err != nil {
		resp = prepareFailure(err)
	} else {
		resp = s.prepare(ctx, action, env.Data)
	}
	s.metrics.observePrepare(head.Action, resp.Code)

	data, _ := json.Marshal(resp)
	_ = writer.write(ctx, wsEnvelope{Event: eventGetTxToClaim, RequestID: env.RequestID, Data: data})
}

// wsSignAndSend acknowledges immediately and pushes the outcome as an
// out-of-band status event once confirmation resolves. The broadcast keeps
// running even if the client goes away; the ledger still records the outcome.
func (s *Server) wsSignAndSend(ctx context.Context, writer *wsWriter, env wsEnvelope) {
	var req coSignRequest
	if err := json.Unmarshal(env.Data, &req); err != nil || req.SerializedTransaction == "" {
		data, _ := json.Marshal(txStatusEvent{RequestID: env.RequestID, Status: txStatusFailed, Error: cosign.CodePayloadInvalid})
		_ = writer.write(ctx, wsEnvelope{Event: eventTxStatus, RequestID: env.RequestID, Data: data})
		return
	}

	ack, _ := json.Marshal(txStatusEvent{RequestID: env.RequestID, Status: txStatusPending})
	_ = writer.write(ctx, wsEnvelope{Event: eventSignAndSend, RequestID: env.RequestID, Data: ack})

	broadcastCtx := context.WithoutCancel(ctx)
	go func() {
		resp := s.coSign(broadcastCtx, req)
		s.metrics.observeCoSign(resp.Code)

		status := txStatusEvent{RequestID: env.RequestID, Status: txStatusConfirmed, Signature: resp.Signature}
		if !resp.IsValid {
			status.Status = txStatusFailed
			status.Error = resp.Code
		}
		data, _ := json.Marshal(status)
		if err := writer.write(broadcastCtx, wsEnvelope{Event: eventTxStatus, RequestID: env.RequestID, Data: data}); err != nil {
			s.logger.Warn("status event delivery failed", "requestId", env.RequestID, "err", err)
		}
	}()
}
