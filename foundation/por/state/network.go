package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/porchain/porchain/foundation/por/ledger"
	"github.com/porchain/porchain/foundation/por/peer"
)

const baseURL = "http://%s/v1/node"

// NetSendBlockToPeers takes a newly farmed block and sends it to all known
// peers.
func (s *State) NetSendBlockToPeers(block ledger.Block) error {
	s.evHandler("state: NetSendBlockToPeers: started")
	defer s.evHandler("state: NetSendBlockToPeers: completed")

	for _, peer := range s.RetrieveKnownPeers() {
		url := fmt.Sprintf("%s/block/next", fmt.Sprintf(baseURL, peer.Host))

		var status struct {
			Status string `json:"status"`
		}

		if err := send(http.MethodPost, url, block, &status); err != nil {
			return fmt.Errorf("%s: %s", peer.Host, err)
		}

		s.evHandler("state: NetSendBlockToPeers: sent to peer[%s]", peer)
	}

	return nil
}

// NetSendChallengeToPeers announces the round this node is farming against.
// A peer that is behind uses the notice to pull the blocks it is missing.
func (s *State) NetSendChallengeToPeers() {
	s.evHandler("state: NetSendChallengeToPeers: started")
	defer s.evHandler("state: NetSendChallengeToPeers: completed")

	tip := s.ledger.Tip()

	notice := struct {
		Host      string `json:"host"`
		TipID     string `json:"tip_id"`
		TipHeight uint64 `json:"tip_height"`
		TipWeight uint64 `json:"tip_weight"`
		Challenge string `json:"challenge"`
	}{
		Host:      s.host,
		TipID:     tip.ID(),
		TipHeight: tip.Header.Height,
		TipWeight: s.ledger.TipWeight(),
		Challenge: tip.NextChallenge().String(),
	}

	for _, peer := range s.RetrieveKnownPeers() {
		url := fmt.Sprintf("%s/challenge", fmt.Sprintf(baseURL, peer.Host))
		if err := send(http.MethodPost, url, notice, nil); err != nil {
			s.evHandler("state: NetSendChallengeToPeers: WARNING: %s", err)
		}
	}
}

// NetRequestPeerStatus looks for new nodes in the network by asking known
// nodes for their peer list, and reports where the peer's chain stands.
func (s *State) NetRequestPeerStatus(pr peer.Peer) (peer.PeerStatus, error) {
	s.evHandler("state: NetRequestPeerStatus: started: %s", pr)
	defer s.evHandler("state: NetRequestPeerStatus: completed: %s", pr)

	url := fmt.Sprintf("%s/status", fmt.Sprintf(baseURL, pr.Host))

	var ps peer.PeerStatus
	if err := send(http.MethodGet, url, nil, &ps); err != nil {
		return peer.PeerStatus{}, err
	}

	s.evHandler("state: NetRequestPeerStatus: peer-node[%s]: height[%d] weight[%d] peer-list[%s]", pr, ps.TipHeight, ps.TipWeight, ps.KnownPeers)

	return ps, nil
}

// NetRequestPeerBlocks queries the specified node asking for canonical
// blocks this node does not have, then links them into the block tree.
func (s *State) NetRequestPeerBlocks(pr peer.Peer) error {
	s.evHandler("state: NetRequestPeerBlocks: started: %s", pr)
	defer s.evHandler("state: NetRequestPeerBlocks: completed: %s", pr)

	from := s.ledger.Height() + 1
	url := fmt.Sprintf("%s/blocks/%d/latest", fmt.Sprintf(baseURL, pr.Host), from)

	var blocks []ledger.Block
	if err := send(http.MethodGet, url, nil, &blocks); err != nil {
		return err
	}

	s.evHandler("state: NetRequestPeerBlocks: found blocks[%d]", len(blocks))

	for _, block := range blocks {
		if _, err := s.ProcessPeerBlock(block); err != nil {
			return err
		}
	}

	return nil
}

// NetRequestAddPeer lets the specified peer know this node is available.
func (s *State) NetRequestAddPeer(pr peer.Peer) error {
	s.evHandler("state: NetRequestAddPeer: started: %s", pr)
	defer s.evHandler("state: NetRequestAddPeer: completed: %s", pr)

	url := fmt.Sprintf("%s/peers", fmt.Sprintf(baseURL, pr.Host))

	return send(http.MethodPost, url, peer.New(s.host), nil)
}

// =============================================================================

// send is a helper function to send an HTTP request to a node.
func send(method string, url string, dataSend any, dataRecv any) error {
	var req *http.Request

	switch {
	case dataSend != nil:
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		req, err = http.NewRequest(method, url, bytes.NewReader(data))
		if err != nil {
			return err
		}

	default:
		var err error
		req, err = http.NewRequest(method, url, nil)
		if err != nil {
			return err
		}
	}

	var client http.Client
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return errors.New(string(msg))
	}

	if dataRecv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
			return err
		}
	}

	return nil
}
