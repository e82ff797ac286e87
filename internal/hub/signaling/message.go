package signaling

import (
	"encoding/json"

	"github.com/CH563/web-transfer/internal/hub/presence"
)

// Message is the discriminated union carried over the /ws channel, in
// both directions. One flat struct with a type discriminant keeps the
// hub's forwarding verbatim: unknown-to-us fields a peer needs survive
// in the raw SDP/candidate blobs.
type Message struct {
	Type string `json:"type"`

	// device-register / device-update
	DeviceID   string `json:"deviceId,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
	DeviceType string `json:"deviceType,omitempty"`
	Status     string `json:"status,omitempty"`

	// device-list
	Devices []presence.Device `json:"devices,omitempty"`

	// transfer-offer / transfer-answer / transfer-progress / transfer-complete / transfer-error
	TransferID string `json:"transferId,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	FileSize   int64  `json:"fileSize,omitempty"`
	FileType   string `json:"fileType,omitempty"`
	SenderID   string `json:"senderId,omitempty"`
	ReceiverID string `json:"receiverId,omitempty"`
	Accepted   *bool  `json:"accepted,omitempty"`
	Progress   *int   `json:"progress,omitempty"`
	Reason     string `json:"reason,omitempty"`

	// webrtc-offer / webrtc-answer / webrtc-ice-candidate; opaque to the hub
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`

	// ping / pong
	Timestamp         int64 `json:"timestamp,omitempty"`
	OriginalTimestamp int64 `json:"originalTimestamp,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// session is the session the message arrived on. Hub internal,
	// never serialized.
	session *Session `json:"-"`
}

// Message type constants.
const (
	TypeDeviceRegister  = "device-register"
	TypeDeviceUpdate    = "device-update"
	TypeDeviceList      = "device-list"
	TypeTransferOffer   = "transfer-offer"
	TypeTransferAnswer  = "transfer-answer"
	TypeWebRTCOffer     = "webrtc-offer"
	TypeWebRTCAnswer    = "webrtc-answer"
	TypeWebRTCCandidate = "webrtc-ice-candidate"
	TypeProgress        = "transfer-progress"
	TypeComplete        = "transfer-complete"
	TypeTransferError   = "transfer-error"
	TypePing            = "ping"
	TypePong            = "pong"
	TypeError           = "error"
)
