// Package entities holds the transfer control-plane session and message
// rows (§3), mirroring internal/negotiation/entities's flat-struct-with-
// json-tags style.
package entities

import "time"

// Role mirrors negotiation's provider/consumer split.
type Role string

const (
	RoleProvider Role = "provider"
	RoleConsumer Role = "consumer"
)

// State is one of the five transfer control-plane states (§4.2).
type State string

const (
	StateRequested  State = "REQUESTED"
	StateStarted    State = "STARTED"
	StateSuspended  State = "SUSPENDED"
	StateCompleted  State = "COMPLETED"
	StateTerminated State = "TERMINATED"
)

// IsTerminal reports whether s admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateTerminated
}

// MessageType enumerates the transfer wire message kinds (§4.2).
type MessageType string

const (
	MessageTransferRequest     MessageType = "TransferRequestMessage"
	MessageTransferStart       MessageType = "TransferStartMessage"
	MessageTransferSuspension  MessageType = "TransferSuspensionMessage"
	MessageTransferCompletion  MessageType = "TransferCompletionMessage"
	MessageTransferTermination MessageType = "TransferTerminationMessage"
	MessageTransferProcessAck  MessageType = "TransferProcessAck"
	MessageTransferError       MessageType = "TransferError"
)

// Direction mirrors negotiation's inbound/outbound audit split.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Format selects the data-plane strategy a transfer uses (§4.2).
type Format string

const (
	FormatHTTPPull   Format = "HTTP_PULL"
	FormatHTTPPush   Format = "HTTP_PUSH"
	FormatNGSILDPush Format = "NGSI-LD_PUSH"
)

// IsPush reports whether f requires the consumer to supply a sink address
// on TransferRequest (§4.2's DataAddress contract).
func (f Format) IsPush() bool {
	return f == FormatHTTPPush || f == FormatNGSILDPush
}

// DataAddress is the data-plane endpoint exchanged per §4.2's DataAddress
// contract: produced by the provider on start for pull formats, supplied
// by the consumer on request for push formats.
type DataAddress struct {
	Endpoint   string            `json:"endpoint"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Session is one transfer control-plane instance (§3).
type Session struct {
	LocalID     string       `json:"localId"`
	PeerID      string       `json:"peerId,omitempty"`
	Role        Role         `json:"role"`
	State       State        `json:"state"`
	PeerAddress string       `json:"peerAddress"`
	MateID      string       `json:"mateId,omitempty"`
	AgreementID string       `json:"agreementId"`
	Format      Format       `json:"format"`
	DataAddress *DataAddress `json:"dataAddress,omitempty"`
	DataPlaneID string       `json:"dataPlaneId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

func (s Session) GetID() string { return s.LocalID }

// Message is one append-only audit-trail row (§3), mirroring negotiation's.
type Message struct {
	ID          string      `json:"id"`
	SessionID   string      `json:"sessionId"`
	Direction   Direction   `json:"direction"`
	Protocol    string      `json:"protocol"`
	Type        MessageType `json:"type"`
	StateBefore State       `json:"stateBefore"`
	StateAfter  State       `json:"stateAfter"`
	Payload     []byte      `json:"payload,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

func (m Message) GetID() string { return m.ID }
