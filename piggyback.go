package iceconn

import (
	"bytes"

	"github.com/gortc/stun"
)

// PiggybackFiller is invoked while building an outbound STUN message,
// letting a DTLS implementation append its own opaque attributes.
// A nil filler is a no-op.
type PiggybackFiller func(m *stun.Message) error

// PiggybackConsumer is invoked with the bytes a peer's DTLS piggyback
// attribute carried, and whether the message it arrived on was itself a
// connectivity-check request (as opposed to a response).
type PiggybackConsumer func(data []byte, isRequest bool)

// DeltaConsumer handles an inbound GOOG_DELTA payload and returns the acknowledgement value to attach as GOOG_DELTA_ACK
// on the response.
type DeltaConsumer func(delta []byte) (ack uint64)

// DeltaAckConsumer handles an inbound GOOG_DELTA_ACK value, delivered to
// whichever side sent the GOOG_DELTA this acknowledges.
type DeltaAckConsumer func(ack uint64)

// NetworkInfoProvider supplies the opaque GOOG_NETWORK_INFO/GOOG_MISC_INFO
// payload to attach to outbound requests: generalizes GOOG_DELTA's
// optional byte-string idea to the network- and misc-info attributes
// without detailing their internal layout, which belongs to the caller.
type NetworkInfoProvider func() []byte

// NetworkInfoObserver receives GOOG_NETWORK_INFO/GOOG_MISC_INFO payloads
// observed on inbound messages.
type NetworkInfoObserver func(data []byte)

// piggybackHooks bundles every optional extension hook a Connection may
// have registered. All fields are optional; nil means "not registered",
// and registering none of them must not change STUN wire behavior for a
// peer that ignores unknown attributes.
type piggybackHooks struct {
	dtlsFiller   PiggybackFiller
	dtlsConsumer PiggybackConsumer

	deltaConsumer    DeltaConsumer
	deltaAckConsumer DeltaAckConsumer

	networkInfoProvider NetworkInfoProvider
	networkInfoObserver NetworkInfoObserver
	miscInfoProvider    NetworkInfoProvider
	miscInfoObserver    NetworkInfoObserver
}

// fillOutbound appends every registered filler/provider's attributes to
// an outbound request.
func (h *piggybackHooks) fillOutbound(m *stun.Message) error {
	if h.networkInfoProvider != nil {
		if data := h.networkInfoProvider(); data != nil {
			if err := GoogNetworkInfo(data).AddTo(m); err != nil {
				return err
			}
		}
	}
	if h.miscInfoProvider != nil {
		if data := h.miscInfoProvider(); data != nil {
			if err := GoogMiscInfo(data).AddTo(m); err != nil {
				return err
			}
		}
	}
	if h.dtlsFiller != nil {
		if err := h.dtlsFiller(m); err != nil {
			return err
		}
	}
	return nil
}

// consumeInbound extracts every registered extension's payload from an
// inbound message and hands it to the matching consumer/observer. When m
// is a request carrying GOOG_DELTA, ackEnabled is set (IceFieldTrials.PiggybackAcks)
// and a DeltaConsumer is registered, its return value is handed back so
// the caller can attach it as GOOG_DELTA_ACK on the response; GOOG_DELTA_ACK
// on a response is instead delivered straight to the registered
// DeltaAckConsumer, since nothing further needs to be sent for it.
func (h *piggybackHooks) consumeInbound(m *stun.Message, isRequest, ackEnabled bool) (deltaAck *uint64) {
	if h.networkInfoObserver != nil {
		var v GoogNetworkInfo
		if err := v.GetFrom(m); err == nil {
			h.networkInfoObserver(v)
		}
	}
	if h.miscInfoObserver != nil {
		var v GoogMiscInfo
		if err := v.GetFrom(m); err == nil {
			h.miscInfoObserver(v)
		}
	}
	if h.dtlsConsumer != nil && m.Contains(dtlsPiggybackAttr) {
		v, _ := m.Get(dtlsPiggybackAttr)
		h.dtlsConsumer(v, isRequest)
	}
	if isRequest && ackEnabled && h.deltaConsumer != nil && m.Contains(AttrGoogDelta) {
		var delta GoogDelta
		if err := delta.GetFrom(m); err == nil {
			ack := h.deltaConsumer(delta)
			deltaAck = &ack
		}
	}
	if h.deltaAckConsumer != nil && m.Contains(AttrGoogDeltaAck) {
		var ack GoogDeltaAck
		if err := ack.GetFrom(m); err == nil {
			h.deltaAckConsumer(uint64(ack))
		}
	}
	return deltaAck
}

// dtlsPiggybackAttr is the opaque attribute DTLS-in-STUN piggyback data is
// carried under; its exact codepoint is a private concern between this
// package and whatever DTLS stack registers a PiggybackFiller, since only
// unknown-attribute-tolerant peers need be unaffected by its presence.
const dtlsPiggybackAttr stun.AttrType = 0xC05B

// googPingCache tracks the last STUN Binding request body sent, so a
// byte-identical subsequent request can be elided in favor of a GOOG_PING,
// and tracks whether the peer has advertised GOOG_PING support in a prior
// response.
type googPingCache struct {
	lastBindingBody []byte
	remoteSupport   *bool // nil: unknown
}

func (c *googPingCache) recordBindingBody(body []byte) {
	c.lastBindingBody = append(c.lastBindingBody[:0], body...)
}

func (c *googPingCache) matchesCached(body []byte) bool {
	return c.lastBindingBody != nil && bytes.Equal(c.lastBindingBody, body)
}

func (c *googPingCache) setRemoteSupport(v bool) { c.remoteSupport = &v }

func (c *googPingCache) supportsGoogPing() bool {
	return c.remoteSupport != nil && *c.remoteSupport
}
