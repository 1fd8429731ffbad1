// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/porchain/porchain/business/web/errs"
	"github.com/porchain/porchain/foundation/por/ledger"
	"github.com/porchain/porchain/foundation/por/peer"
	"github.com/porchain/porchain/foundation/por/state"
	"github.com/porchain/porchain/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// SubmitPeer is called by a peer to let this node know it is available.
func (h Handlers) SubmitPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var pr peer.Peer
	if err := web.Decode(r, &pr); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	if h.State.AddKnownPeer(pr) {
		h.Log.Infow("add peer", "traceid", v.TraceID, "host", pr.Host)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "accepted",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// AddNextBlock takes a block farmed by a peer, validates it and if that
// passes, links it into the block tree.
func (h Handlers) AddNextBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var block ledger.Block
	if err := web.Decode(r, &block); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	h.Log.Infow("add next block", "traceid", v.TraceID, "block", block.ID(), "height", block.Header.Height)

	result, err := h.State.ProcessPeerBlock(block)
	if err != nil {
		return errs.NewTrusted(errors.New("block not accepted"), http.StatusNotAcceptable)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: result.Status,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SubmitChallenge is called by a peer announcing the round it is farming
// against. When the peer's chain is heavier, pull the blocks this node is
// missing.
func (h Handlers) SubmitChallenge(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var notice challengeNotice
	if err := web.Decode(r, &notice); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	h.Log.Infow("challenge notice", "traceid", v.TraceID, "host", notice.Host, "tip", notice.TipID, "weight", notice.TipWeight)

	status := "known"
	if _, err := h.State.QueryBlockByID(notice.TipID); err != nil {
		status = "behind"

		if notice.TipWeight > h.State.RetrieveTipWeight() {
			if err := h.State.NetRequestPeerBlocks(peer.New(notice.Host)); err != nil {
				h.Log.Errorw("challenge notice", "traceid", v.TraceID, "host", notice.Host, "ERROR", err)
			} else {
				status = "synced"
			}
		}
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: status,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	tip := h.State.RetrieveTip()

	status := peer.PeerStatus{
		TipID:      tip.ID(),
		TipHeight:  tip.Header.Height,
		TipWeight:  h.State.RetrieveTipWeight(),
		KnownPeers: h.State.RetrieveKnownPeers(),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// BlocksByHeight returns the canonical blocks based on the specified
// to/from values.
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

	blocks := h.State.QueryBlocksByHeight(from, to)
	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// challengeNotice is the payload a peer sends when it opens a new round.
type challengeNotice struct {
	Host      string `json:"host" validate:"required"`
	TipID     string `json:"tip_id" validate:"required"`
	TipHeight uint64 `json:"tip_height"`
	TipWeight uint64 `json:"tip_weight"`
	Challenge string `json:"challenge"`
}
