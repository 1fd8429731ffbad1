// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/porchain/porchain/business/web/errs"
	"github.com/porchain/porchain/foundation/events"
	"github.com/porchain/porchain/foundation/por/state"
	"github.com/porchain/porchain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	h.Log.Infow("events", "traceid", v.TraceID, "status", "websocket open")

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.RetrieveGenesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// Tip returns a snapshot of where the canonical chain stands.
func (h Handlers) Tip(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	tipBlock := h.State.RetrieveTip()

	t := tip{
		ID:        tipBlock.ID(),
		Height:    tipBlock.Header.Height,
		Weight:    h.State.RetrieveTipWeight(),
		Challenge: tipBlock.NextChallenge().String(),
		FarmerID:  h.State.RetrieveFarmerID(),
		Orphans:   h.State.QueryOrphanCount(),
	}

	return web.Respond(ctx, w, t, http.StatusOK)
}

// PlotStatus reports how far this node's plot has caught up with the piece
// set.
func (h Handlers) PlotStatus(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	status := h.State.QueryPlotStatus()
	return web.Respond(ctx, w, status, http.StatusOK)
}

// BlocksByHeight returns the canonical blocks for the specified range.
func (h Handlers) BlocksByHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	fromStr := web.Param(r, "from")
	toStr := web.Param(r, "to")

	if fromStr == "latest" || fromStr == "" {
		fromStr = strconv.FormatUint(h.State.RetrieveTip().Header.Height, 10)
	}
	if toStr == "latest" || toStr == "" {
		toStr = strconv.FormatUint(h.State.RetrieveTip().Header.Height, 10)
	}

	from, err := strconv.ParseUint(fromStr, 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}
	to, err := strconv.ParseUint(toStr, 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if from > to {
		return errs.NewTrusted(errors.New("from greater than to"), http.StatusBadRequest)
	}

	dbBlocks := h.State.QueryBlocksByHeight(from, to)
	if len(dbBlocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blocks := make([]block, len(dbBlocks))
	for i, blk := range dbBlocks {
		blocks[i] = toBlock(blk)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}
