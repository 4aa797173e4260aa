// Package orchestrator is the transactional glue of §2 for the SSI/GNAP
// grant machine, mirroring internal/negotiation/orchestrator's shape:
// session-scoped lock, validate, decide, apply side effect, persist,
// publish.
package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/dscp-io/connector/internal/ssiauth/entities"
	"github.com/dscp-io/connector/internal/ssiauth/statemachine"
	"github.com/dscp-io/connector/internal/ssiauth/validator"
	"github.com/dscp-io/connector/pkg/errs"
	"github.com/dscp-io/connector/pkg/eventbus"
	"github.com/dscp-io/connector/pkg/mate"
	"github.com/dscp-io/connector/pkg/repository"
	"github.com/dscp-io/connector/pkg/urn"
	"github.com/dscp-io/connector/pkg/wallet"
)

// StateTTL maps a state to its configurable TTL (§4.3's "Expiry
// (configurable TTL per state)"). A zero duration means no expiry is
// enforced for that state.
type StateTTL map[entities.State]time.Duration

// DefaultStateTTL matches the provider's practical patience for each
// leg of the flow: a consumer has five minutes to complete the wallet
// interaction and VP presentation, and an hour to poll the continuation
// URI once approved.
func DefaultStateTTL() StateTTL {
	return StateTTL{
		entities.StateAwaitingInteraction: 5 * time.Minute,
		entities.StateAwaitingVP:          5 * time.Minute,
		entities.StateVerified:            24 * time.Hour,
		entities.StateApproved:            1 * time.Hour,
	}
}

// GrantResponse is returned to the consumer on grant request (§6's
// POST /gate/access).
type GrantResponse struct {
	ContinuationURI string         `json:"continuationUri"`
	InteractionRef  string         `json:"interactionRef"`
	ASNonce         string         `json:"asNonce"`
	State           entities.State `json:"state"`
}

// ContinueResponse is returned on a successful continuation call (§6's
// POST /gate/continue/:id).
type ContinueResponse struct {
	AccessToken string         `json:"accessToken"`
	State       entities.State `json:"state"`
}

// Orchestrator coordinates the SSI/GNAP grant machine for one node.
type Orchestrator struct {
	Grants        *repository.Repository[entities.Grant]
	Verifications *repository.Repository[entities.Verification]

	Wallet  wallet.Facade
	Mates   mate.Resolver
	Events  *eventbus.Bus
	TTL     StateTTL
	SelfDID string
	Logger  *zap.Logger
}

// RequestGrant runs flow step 1: creates a grant session in
// AWAITING_INTERACTION and mints a client/AS nonce pair.
func (o *Orchestrator) RequestGrant(ctx context.Context, clientKeyThumbprint string, requestedAccess map[string]any, continuationBaseURI string) (*GrantResponse, error) {
	if err := validator.ValidateGrantRequest(clientKeyThumbprint, requestedAccess); err != nil {
		return nil, err
	}

	next, err := statemachine.Decide("", false, statemachine.EventGrantRequest)
	if err != nil {
		return nil, err
	}

	localID := urn.New("grant").String()
	grant := &entities.Grant{
		LocalID:             localID,
		State:               next,
		ClientKeyThumbprint: clientKeyThumbprint,
		RequestedAccess:     requestedAccess,
		ClientNonce:         mustRandomHex(16),
		ASNonce:             mustRandomHex(16),
		InteractionRef:      mustRandomHex(16),
		ContinuationURI:     continuationBaseURI + "/" + localID,
		ContinuationToken:   mustRandomHex(32),
		CreatedAt:           time.Now(),
	}
	o.stampTransition(grant, next)

	if err := o.Grants.Create(ctx, grant); err != nil {
		return nil, err
	}
	o.publish(ctx, grant, "grantRequested")

	return &GrantResponse{
		ContinuationURI: grant.ContinuationURI,
		InteractionRef:  grant.InteractionRef,
		ASNonce:         grant.ASNonce,
		State:           grant.State,
	}, nil
}

// RequestVPD runs flow step 2: the wallet's GET /verifier/vpd/:state call.
// It opens the one-shot verification window by transitioning
// AWAITING_INTERACTION -> AWAITING_VP and binds the VPD to the grant's
// nonce and this node's DID as audience.
func (o *Orchestrator) RequestVPD(ctx context.Context, localID string) (*wallet.VPD, error) {
	unlock, err := o.Grants.Lock(ctx, localID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	grant, found, err := o.Grants.GetByID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.MissingResource, "no grant %s", localID)
	}

	next, err := statemachine.Decide(grant.State, true, statemachine.EventRequestVPD)
	if err != nil {
		return nil, err
	}

	grant.VerifierNonce = mustRandomHex(16)
	grant.VerifierAudience = o.SelfDID
	o.stampTransition(grant, next)
	if err := o.Grants.Update(ctx, grant); err != nil {
		return nil, err
	}
	o.publish(ctx, grant, "vpdRequested")

	return o.Wallet.GenerateVPD(ctx, grant.VerifierNonce, grant.VerifierAudience, grant.RequestedAccess)
}

// SubmitVP runs flow step 3: the wallet's POST /verifier/verify/:state
// call. Validates the VP per §4.3's ordered checklist and transitions to
// VERIFIED, or to the terminal FAILED on any failure or nonce replay.
func (o *Orchestrator) SubmitVP(ctx context.Context, localID, vpJWT string) (entities.State, error) {
	unlock, err := o.Grants.Lock(ctx, localID)
	if err != nil {
		return "", err
	}
	defer unlock()

	grant, found, err := o.Grants.GetByID(ctx, localID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", errs.New(errs.MissingResource, "no grant %s", localID)
	}

	priorVerifications, err := o.Verifications.GetByPrefix(ctx, localID)
	if err != nil {
		return "", err
	}

	verification := &entities.Verification{
		ID: localID + ":" + urn.New("verification").String(), GrantID: localID,
		Nonce: grant.VerifierNonce, ExpectedAudience: grant.VerifierAudience,
		VPJWT: vpJWT, CreatedAt: time.Now(),
	}

	verifyErr := validator.ValidateVPNotReplayed(priorVerifications, grant.VerifierNonce)
	var verified *wallet.VerifiedVP
	if verifyErr == nil {
		verified, verifyErr = o.Wallet.VerifyVP(ctx, vpJWT, grant.VerifierNonce, grant.VerifierAudience)
	}

	now := time.Now()
	verification.EndedAt = &now
	event := statemachine.EventVPValid
	if verifyErr != nil {
		event = statemachine.EventVPInvalid
	} else {
		verification.Success = true
		verification.Holder = verified.Holder
		grant.PeerDID = verified.Holder
	}

	next, err := statemachine.Decide(grant.State, true, event)
	if err != nil {
		return "", err
	}
	if err := o.Verifications.Create(ctx, verification); err != nil {
		return "", err
	}

	o.stampTransition(grant, next)
	if err := o.Grants.Update(ctx, grant); err != nil {
		return "", err
	}
	o.publish(ctx, grant, "vpSubmitted")

	if verifyErr != nil {
		return next, verifyErr
	}
	return next, nil
}

// Decide runs flow step 4: the human/policy decision that moves a
// VERIFIED grant to APPROVED or DENIED.
func (o *Orchestrator) Decide(ctx context.Context, localID string, approve bool) (entities.State, error) {
	unlock, err := o.Grants.Lock(ctx, localID)
	if err != nil {
		return "", err
	}
	defer unlock()

	grant, found, err := o.Grants.GetByID(ctx, localID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", errs.New(errs.MissingResource, "no grant %s", localID)
	}

	event := statemachine.EventDeny
	if approve {
		event = statemachine.EventApprove
	}
	next, err := statemachine.Decide(grant.State, true, event)
	if err != nil {
		return "", err
	}
	o.stampTransition(grant, next)
	if err := o.Grants.Update(ctx, grant); err != nil {
		return "", err
	}
	// Only an approval emits the grant.accepted subtype; a denial is a
	// terminal administrative outcome with no bus subtype of its own.
	if approve {
		o.publish(ctx, grant, "grant.accepted")
	} else if o.Logger != nil {
		o.Logger.Sugar().Infow("ssi auth transition", "grantId", grant.LocalID, "state", grant.State, "event", "denied")
	}
	return next, nil
}

// Continue runs flow steps 5-6: the consumer polls with interactRef and
// presents the continuation hash + the original client key. On a match,
// issues a bearer token and upserts the consumer as a Mate.
func (o *Orchestrator) Continue(ctx context.Context, localID, presentedKeyThumbprint, interactRef, presentedHash string) (*ContinueResponse, error) {
	unlock, err := o.Grants.Lock(ctx, localID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	grant, found, err := o.Grants.GetByID(ctx, localID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.MissingResource, "no grant %s", localID)
	}

	if err := validator.ValidateContinuationKey(grant, presentedKeyThumbprint); err != nil {
		return nil, err
	}
	if interactRef != grant.InteractionRef {
		return nil, errs.New(errs.Unauthorized, "interactRef does not match grant")
	}

	expected := validator.ContinuationHash(grant.ClientNonce, grant.ASNonce, grant.InteractionRef)
	hashErr := validator.ValidateContinuationHash(expected, presentedHash)

	event := statemachine.EventContinueValid
	if hashErr != nil {
		event = statemachine.EventContinueInvalid
	}
	next, err := statemachine.Decide(grant.State, true, event)
	if err != nil {
		return nil, err
	}

	if hashErr != nil {
		o.stampTransition(grant, next)
		_ = o.Grants.Update(ctx, grant)
		o.publish(ctx, grant, "grant.continuation.failed")
		return nil, hashErr
	}

	token, err := o.Wallet.IssueCredential(ctx, grant.PeerDID, map[string]any{"grantId": grant.LocalID})
	if err != nil {
		return nil, err
	}
	grant.BearerToken = token
	o.stampTransition(grant, next)
	if err := o.Grants.Update(ctx, grant); err != nil {
		return nil, err
	}

	if o.Mates != nil && grant.PeerDID != "" {
		if err := o.Mates.Upsert(ctx, &mate.Mate{ParticipantID: grant.PeerDID, Token: token}); err != nil {
			return nil, err
		}
	}
	o.publish(ctx, grant, "grant.finalized")

	return &ContinueResponse{AccessToken: token, State: grant.State}, nil
}

// Sweep implements §4.3's background/lazy expiry: every non-terminal
// grant whose current-state TTL has elapsed transitions to EXPIRED.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	grants, err := o.Grants.GetAll(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, grant := range grants {
		if grant.State.IsTerminal() || grant.ExpiresAt.IsZero() || now.Before(grant.ExpiresAt) {
			continue
		}
		unlock, err := o.Grants.Lock(ctx, grant.LocalID)
		if err != nil {
			return err
		}
		next, decErr := statemachine.Decide(grant.State, true, statemachine.EventExpire)
		if decErr == nil {
			o.stampTransition(grant, next)
			if err := o.Grants.Update(ctx, grant); err != nil {
				unlock()
				return err
			}
			o.publish(ctx, grant, "grant.expired")
		}
		unlock()
	}
	return nil
}

func (o *Orchestrator) stampTransition(grant *entities.Grant, next entities.State) {
	grant.State = next
	grant.UpdatedAt = time.Now()
	if ttl, ok := o.TTL[next]; ok && ttl > 0 {
		grant.ExpiresAt = grant.UpdatedAt.Add(ttl)
	} else {
		grant.ExpiresAt = time.Time{}
	}
}

func (o *Orchestrator) publish(ctx context.Context, grant *entities.Grant, messageType string) {
	if o.Events == nil {
		return
	}
	o.Events.Publish(ctx, eventbus.Notification{
		Category: "ssiauth", MessageType: messageType, Operation: string(grant.State), Content: grant,
	})
	if o.Logger != nil {
		o.Logger.Sugar().Infow("ssi auth transition", "grantId", grant.LocalID, "state", grant.State, "event", messageType)
	}
}

func mustRandomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
