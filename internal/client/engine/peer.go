package engine

import (
	"encoding/json"

	pion "github.com/pion/webrtc/v4"

	"github.com/CH563/web-transfer/internal/client/config"
	"github.com/CH563/web-transfer/internal/hub/signaling"
)

// maxPacketLifeTime bounds retransmission of a single packet on the
// data channel.
const maxPacketLifeTime = uint16(3000) // ms

// NewPeerConnection builds a peer connection configured with the
// rendezvous (STUN) servers from config.
func NewPeerConnection(cfg *config.Config) (*pion.PeerConnection, error) {
	pc, err := pion.NewPeerConnection(pion.Configuration{
		ICEServers: []pion.ICEServer{{URLs: cfg.GetSTUNServers()}},
	})
	if err != nil {
		return nil, NewError("create peer connection", err)
	}
	return pc, nil
}

// CreateFileChannel opens the ordered fileTransfer data channel with a
// capped per-packet lifetime.
func CreateFileChannel(pc *pion.PeerConnection) (*pion.DataChannel, error) {
	ordered := true
	lifetime := maxPacketLifeTime

	dc, err := pc.CreateDataChannel(DataChannelLabel, &pion.DataChannelInit{
		Ordered:           &ordered,
		MaxPacketLifeTime: &lifetime,
	})
	if err != nil {
		return nil, NewError("create data channel", err)
	}
	return dc, nil
}

// CreateOffer produces the local SDP offer.
func CreateOffer(pc *pion.PeerConnection) (*pion.SessionDescription, error) {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, NewError("create offer", err)
	}
	if err = pc.SetLocalDescription(offer); err != nil {
		return nil, NewError("set local description", err)
	}
	return pc.LocalDescription(), nil
}

// CreateAnswer applies the remote offer and produces the local answer.
func CreateAnswer(pc *pion.PeerConnection, offer *pion.SessionDescription) (*pion.SessionDescription, error) {
	if err := pc.SetRemoteDescription(*offer); err != nil {
		return nil, NewError("set remote description", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return nil, NewError("create answer", err)
	}
	if err = pc.SetLocalDescription(answer); err != nil {
		return nil, NewError("set local description", err)
	}
	return pc.LocalDescription(), nil
}

// decodeDescription parses an SDP blob from a signaling message.
func decodeDescription(raw json.RawMessage) (*pion.SessionDescription, error) {
	var desc pion.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return nil, NewError("parse session description", err)
	}
	return &desc, nil
}

// encodeDescription serializes an SDP for a signaling message.
func encodeDescription(desc *pion.SessionDescription) (json.RawMessage, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return nil, NewError("encode session description", err)
	}
	return raw, nil
}

// forwardCandidates sends each discovered ICE candidate to the peer
// through the hub.
func forwardCandidates(pc *pion.PeerConnection, send func(*signaling.Message), transferID string) {
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		send(&signaling.Message{
			Type:       signaling.TypeWebRTCCandidate,
			TransferID: transferID,
			Candidate:  raw,
		})
	})
}

// addCandidate applies a remote ICE candidate.
func addCandidate(pc *pion.PeerConnection, raw json.RawMessage) error {
	var init pion.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return NewError("parse ICE candidate", err)
	}
	if err := pc.AddICECandidate(init); err != nil {
		return NewError("add ICE candidate", err)
	}
	return nil
}
