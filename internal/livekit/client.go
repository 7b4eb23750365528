// Package livekit wraps the LiveKit server SDK with the small surface the
// campaign runtime and provisioning handlers need. The wrapper is stateless;
// every call carries its own deadline and failures come back classified.
package livekit

import (
	"context"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
)

// callTimeout bounds every fabric round trip. A call the fabric has not
// accepted within this window is reported as a timeout failure.
const callTimeout = 30 * time.Second

// Participant is the result of placing an outbound SIP leg.
type Participant struct {
	ParticipantID       string
	ParticipantIdentity string
	SIPCallID           string
}

// Client talks to the LiveKit SIP and agent dispatch services.
type Client struct {
	sip      *lksdk.SIPClient
	dispatch *lksdk.AgentDispatchClient
}

// NewClient builds a client for the given deployment.
func NewClient(url, apiKey, apiSecret string) *Client {
	return &Client{
		sip:      lksdk.NewSIPClient(url, apiKey, apiSecret),
		dispatch: lksdk.NewAgentDispatchServiceClient(url, apiKey, apiSecret),
	}
}

// DispatchAgent asks the fabric to join the named agent to a room. Returns
// the dispatch id. Called before the SIP leg is created so the agent is
// already a room destination when the callee answers.
func (c *Client) DispatchAgent(ctx context.Context, roomName, agentName, metadata string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.dispatch.CreateDispatch(ctx, &livekit.CreateAgentDispatchRequest{
		Room:      roomName,
		AgentName: agentName,
		Metadata:  metadata,
	})
	if err != nil {
		return "", classify("create_dispatch", err)
	}
	return resp.Id, nil
}

// CreateSIPParticipant places the outbound SIP leg into roomName through the
// given trunk.
func (c *Client) CreateSIPParticipant(ctx context.Context, trunkID, e164, roomName, identity, metadata string) (*Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.sip.CreateSIPParticipant(ctx, &livekit.CreateSIPParticipantRequest{
		SipTrunkId:          trunkID,
		SipCallTo:           e164,
		RoomName:            roomName,
		ParticipantIdentity: identity,
		ParticipantMetadata: metadata,
	})
	if err != nil {
		return nil, classify("create_sip_participant", err)
	}
	return &Participant{
		ParticipantID:       resp.ParticipantId,
		ParticipantIdentity: resp.ParticipantIdentity,
		SIPCallID:           resp.SipCallId,
	}, nil
}

// CreateInboundTrunk provisions an inbound trunk accepting the given numbers.
func (c *Client) CreateInboundTrunk(ctx context.Context, name string, numbers []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.sip.CreateSIPInboundTrunk(ctx, &livekit.CreateSIPInboundTrunkRequest{
		Trunk: &livekit.SIPInboundTrunkInfo{
			Name:    name,
			Numbers: numbers,
		},
	})
	if err != nil {
		return "", classify("create_inbound_trunk", err)
	}
	return resp.SipTrunkId, nil
}

// UpdateInboundTrunkNumbers replaces the number set on an inbound trunk.
func (c *Client) UpdateInboundTrunkNumbers(ctx context.Context, trunkID, name string, numbers []string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, err := c.sip.UpdateSIPInboundTrunk(ctx, &livekit.UpdateSIPInboundTrunkRequest{
		SipTrunkId: trunkID,
		Action: &livekit.UpdateSIPInboundTrunkRequest_Replace{
			Replace: &livekit.SIPInboundTrunkInfo{
				SipTrunkId: trunkID,
				Name:       name,
				Numbers:    numbers,
			},
		},
	})
	if err != nil {
		return classify("update_inbound_trunk", err)
	}
	return nil
}

// CreateOutboundTrunk provisions an outbound trunk against a SIP provider.
func (c *Client) CreateOutboundTrunk(ctx context.Context, name, address string, numbers []string, username, password string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.sip.CreateSIPOutboundTrunk(ctx, &livekit.CreateSIPOutboundTrunkRequest{
		Trunk: &livekit.SIPOutboundTrunkInfo{
			Name:         name,
			Address:      address,
			Numbers:      numbers,
			AuthUsername: username,
			AuthPassword: password,
		},
	})
	if err != nil {
		return "", classify("create_outbound_trunk", err)
	}
	return resp.SipTrunkId, nil
}

// DeleteTrunk removes a trunk by id.
func (c *Client) DeleteTrunk(ctx context.Context, trunkID string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, err := c.sip.DeleteSIPTrunk(ctx, &livekit.DeleteSIPTrunkRequest{
		SipTrunkId: trunkID,
	})
	if err != nil {
		return classify("delete_trunk", err)
	}
	return nil
}

// CreateDispatchRule routes inbound calls on the given trunks into individual
// rooms with the given prefix.
func (c *Client) CreateDispatchRule(ctx context.Context, name, roomPrefix string, trunkIDs []string, metadata string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := c.sip.CreateSIPDispatchRule(ctx, &livekit.CreateSIPDispatchRuleRequest{
		Name:     name,
		TrunkIds: trunkIDs,
		Metadata: metadata,
		Rule: &livekit.SIPDispatchRule{
			Rule: &livekit.SIPDispatchRule_DispatchRuleIndividual{
				DispatchRuleIndividual: &livekit.SIPDispatchRuleIndividual{
					RoomPrefix: roomPrefix,
				},
			},
		},
	})
	if err != nil {
		return "", classify("create_dispatch_rule", err)
	}
	return resp.SipDispatchRuleId, nil
}

// DeleteDispatchRule removes a dispatch rule by id.
func (c *Client) DeleteDispatchRule(ctx context.Context, ruleID string) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	_, err := c.sip.DeleteSIPDispatchRule(ctx, &livekit.DeleteSIPDispatchRuleRequest{
		SipDispatchRuleId: ruleID,
	})
	if err != nil {
		return classify("delete_dispatch_rule", err)
	}
	return nil
}
