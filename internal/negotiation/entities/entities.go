// Package entities holds the contract-negotiation session, message, offer
// and agreement rows (§3), plain structs with camelCase JSON tags mirroring
// DSP wire bodies the way pkg/types/types.go keeps wire/storage types apart
// from behavior.
package entities

import "time"

// Role fixes which transitions a session's participant may drive.
type Role string

const (
	RoleProvider Role = "provider"
	RoleConsumer Role = "consumer"
)

// State is one of the seven contract-negotiation states.
type State string

const (
	StateRequested  State = "REQUESTED"
	StateOffered    State = "OFFERED"
	StateAccepted   State = "ACCEPTED"
	StateAgreed     State = "AGREED"
	StateVerified   State = "VERIFIED"
	StateFinalized  State = "FINALIZED"
	StateTerminated State = "TERMINATED"
)

// IsTerminal reports whether s admits no further transitions.
func (s State) IsTerminal() bool {
	return s == StateFinalized || s == StateTerminated
}

// MessageType enumerates the CN wire message kinds (§4.1).
type MessageType string

const (
	MessageContractRequest                MessageType = "ContractRequestMessage"
	MessageContractOffer                  MessageType = "ContractOfferMessage"
	MessageContractAgreement              MessageType = "ContractAgreementMessage"
	MessageContractAgreementVerification  MessageType = "ContractAgreementVerificationMessage"
	MessageContractNegotiationEvent       MessageType = "ContractNegotiationEventMessage"
	MessageContractNegotiationTermination MessageType = "ContractNegotiationTerminationMessage"
	MessageContractNegotiationAck         MessageType = "ContractNegotiationAck"
	MessageContractNegotiationError       MessageType = "ContractNegotiationError"
)

// EventSubtype distinguishes the two subtypes a ContractNegotiationEventMessage
// carries.
type EventSubtype string

const (
	EventAccepted  EventSubtype = "accepted"
	EventFinalized EventSubtype = "finalized"
)

// Direction distinguishes inbound and outbound messages in the audit trail.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Session is one contract-negotiation instance (§3).
type Session struct {
	LocalID     string    `json:"localId"`
	PeerID      string    `json:"peerId,omitempty"`
	Role        Role      `json:"role"`
	State       State     `json:"state"`
	PeerAddress string    `json:"peerAddress"`
	MateID      string    `json:"mateId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	LastOfferID string    `json:"lastOfferId,omitempty"`
	AgreementID string    `json:"agreementId,omitempty"`
}

// GetID satisfies repository.Identified, keyed by the stable local identifier.
func (s Session) GetID() string { return s.LocalID }

// Message is one append-only audit-trail row (§3).
type Message struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"sessionId"`
	Direction   Direction    `json:"direction"`
	Protocol    string       `json:"protocol"`
	Type        MessageType  `json:"type"`
	Subtype     EventSubtype `json:"subtype,omitempty"`
	StateBefore State        `json:"stateBefore"`
	StateAfter  State        `json:"stateAfter"`
	Payload     []byte       `json:"payload,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

func (m Message) GetID() string { return m.ID }

// Offer is an ODRL policy expression proposed by one side (§3).
type Offer struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"sessionId"`
	MessageID       string         `json:"messageId"`
	OfferIdentifier string         `json:"offerIdentifier"`
	Content         map[string]any `json:"content"`
}

func (o Offer) GetID() string { return o.ID }

// Agreement is the finalized, signed ODRL agreement (§3). At most one per
// session, creation is terminal (session moves to AGREED).
type Agreement struct {
	ID                    string         `json:"id"`
	SessionID             string         `json:"sessionId"`
	MessageID             string         `json:"messageId"`
	ConsumerParticipantID string         `json:"consumerParticipantId"`
	ProviderParticipantID string         `json:"providerParticipantId"`
	Content               map[string]any `json:"content"`
	Signature             []byte         `json:"signature,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
	Active                bool           `json:"active"`
}

func (a Agreement) GetID() string { return a.ID }
