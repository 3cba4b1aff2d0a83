package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/finquiry/finquiry/internal/pipeline"
)

// readTimeout bounds how long a client may take to send its request.
const wsReadTimeout = 30 * time.Second

// ResearchStream upgrades to a websocket, reads one research request and
// streams pipeline events until the terminal complete event.
func (h *Handlers) ResearchStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("warning: server: websocket accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()

	var req researchRequest
	readCtx, cancel := context.WithTimeout(ctx, wsReadTimeout)
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "expected a research request")
		return
	}
	if err := req.normalize(); err != nil {
		_ = wsjson.Write(ctx, conn, err)
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	events := h.orch.RunEvents(ctx, pipeline.Input{
		Query:      req.Query,
		ThreadID:   req.ThreadID,
		UserID:     req.UserID,
		Depth:      req.Depth,
		CheckCache: req.CheckCache,
	})

	for ev := range events {
		if err := wsjson.Write(ctx, conn, ev); err != nil {
			log.Printf("warning: server: websocket write: %v", err)
			return
		}
	}

	conn.Close(websocket.StatusNormalClosure, "research complete")
}
