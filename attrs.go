package iceconn

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // STUN short-term credentials mandate SHA-1 HMAC, RFC 5389 Section 15.4.
	"encoding/binary"

	ice "github.com/gortc/ice"
	"github.com/gortc/stun"
)

// STUN attribute codepoints this package adds on top of gortc/stun's RFC
// 5389 base set and gortc/ice's ICE-CONTROLLING/CONTROLLED, all from the
// comprehension-optional range: PRIORITY and USE-CANDIDATE are the RFC
// 5245 codepoints, NOMINATION is the ICE re-nomination Internet-Draft's,
// and the GOOG_* attributes are this package's equivalent of the
// proprietary extensions a libwebrtc-compatible peer may send.
const (
	AttrPriority     stun.AttrType = 0x0024
	AttrUseCandidate stun.AttrType = 0x0025
	AttrNomination   stun.AttrType = 0xC001
	AttrGoogDelta    stun.AttrType = 0xC057
	AttrGoogDeltaAck stun.AttrType = 0xC058
	AttrGoogMiscInfo stun.AttrType = 0xC059
	AttrGoogNetInfo  stun.AttrType = 0xC05A
)

// STUN methods this package uses beyond stun.MethodBinding: GOOG_PING is
// a compact Binding-Request equivalent for a connectivity check whose
// attributes have not changed since the last one sent.
const MethodGoogPing stun.Method = 0x0080

// GoogPingRequest and GoogPingResponse are the message types built for
// the GOOG_PING method.
var (
	GoogPingRequest  = stun.NewType(MethodGoogPing, stun.ClassRequest)
	GoogPingResponse = stun.NewType(MethodGoogPing, stun.ClassSuccessResponse)
)

// Priority is the PRIORITY attribute, RFC 5245 Section 4.1.2.1: a 32-bit
// peer-reflexive priority value.
type Priority uint32

// AddTo adds PRIORITY to m.
func (p Priority) AddTo(m *stun.Message) error {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, uint32(p))
	m.Add(AttrPriority, v)
	return nil
}

// GetFrom decodes PRIORITY from m.
func (p *Priority) GetFrom(m *stun.Message) error {
	v, err := m.Get(AttrPriority)
	if err != nil {
		return err
	}
	if err := stun.CheckSize(AttrPriority, len(v), 4); err != nil {
		return err
	}
	*p = Priority(binary.BigEndian.Uint32(v))
	return nil
}

// UseCandidate is the zero-length USE-CANDIDATE flag attribute, RFC 5245
// Section 7.1.2.1.
type UseCandidate struct{}

// AddTo adds USE-CANDIDATE to m.
func (UseCandidate) AddTo(m *stun.Message) error {
	m.Add(AttrUseCandidate, nil)
	return nil
}

// IsSet reports whether m carries USE-CANDIDATE.
func (UseCandidate) IsSet(m *stun.Message) bool {
	return m.Contains(AttrUseCandidate)
}

// Nomination is the NOMINATION attribute carrying the controlling agent's
// chosen nomination value, from the ICE re-nomination extension.
type Nomination uint32

// AddTo adds NOMINATION to m.
func (n Nomination) AddTo(m *stun.Message) error {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, uint32(n))
	m.Add(AttrNomination, v)
	return nil
}

// GetFrom decodes NOMINATION from m.
func (n *Nomination) GetFrom(m *stun.Message) error {
	v, err := m.Get(AttrNomination)
	if err != nil {
		return err
	}
	if err := stun.CheckSize(AttrNomination, len(v), 4); err != nil {
		return err
	}
	*n = Nomination(binary.BigEndian.Uint32(v))
	return nil
}

// GoogDelta is an opaque byte-string piggyback attribute used to carry a
// consumer-defined delta payload on a connectivity check.
type GoogDelta []byte

// AddTo adds GOOG_DELTA to m.
func (d GoogDelta) AddTo(m *stun.Message) error {
	m.Add(AttrGoogDelta, d)
	return nil
}

// GetFrom decodes GOOG_DELTA from m.
func (d *GoogDelta) GetFrom(m *stun.Message) error {
	v, err := m.Get(AttrGoogDelta)
	if err != nil {
		return err
	}
	*d = append((*d)[:0], v...)
	return nil
}

// GoogDeltaAck is the 64-bit acknowledgement of a GoogDelta payload.
type GoogDeltaAck uint64

// AddTo adds GOOG_DELTA_ACK to m.
func (a GoogDeltaAck) AddTo(m *stun.Message) error {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(a))
	m.Add(AttrGoogDeltaAck, v)
	return nil
}

// GetFrom decodes GOOG_DELTA_ACK from m.
func (a *GoogDeltaAck) GetFrom(m *stun.Message) error {
	v, err := m.Get(AttrGoogDeltaAck)
	if err != nil {
		return err
	}
	if err := stun.CheckSize(AttrGoogDeltaAck, len(v), 8); err != nil {
		return err
	}
	*a = GoogDeltaAck(binary.BigEndian.Uint64(v))
	return nil
}

// GoogMiscInfo and GoogNetworkInfo are opaque byte-string attributes
// handed verbatim to a registered NetworkInfoProvider/Observer (see
// piggyback.go); this package does not interpret their contents.
type GoogMiscInfo []byte

func (d GoogMiscInfo) AddTo(m *stun.Message) error {
	m.Add(AttrGoogMiscInfo, d)
	return nil
}

func (d *GoogMiscInfo) GetFrom(m *stun.Message) error {
	v, err := m.Get(AttrGoogMiscInfo)
	if err != nil {
		return err
	}
	*d = append((*d)[:0], v...)
	return nil
}

type GoogNetworkInfo []byte

func (d GoogNetworkInfo) AddTo(m *stun.Message) error {
	m.Add(AttrGoogNetInfo, d)
	return nil
}

func (d *GoogNetworkInfo) GetFrom(m *stun.Message) error {
	v, err := m.Get(AttrGoogNetInfo)
	if err != nil {
		return err
	}
	*d = append((*d)[:0], v...)
	return nil
}

// AttrMessageIntegrity32 is GOOG_PING's reduced-size message integrity,
// a 4-byte truncation of the usual 20-byte MESSAGE-INTEGRITY HMAC-SHA1.
const AttrMessageIntegrity32 stun.AttrType = 0xC05C

// MessageIntegrity32 computes and verifies the truncated HMAC-SHA1
// GOOG_PING uses in place of MESSAGE-INTEGRITY, keyed the same way
// (RFC 5389 Section 15.4 short-term credential key).
type MessageIntegrity32 []byte

// NewMessageIntegrity32 derives the short-term credential key from
// password, matching stun.NewShortTermIntegrity's key derivation.
func NewMessageIntegrity32(password string) MessageIntegrity32 {
	return MessageIntegrity32(password)
}

// AddTo computes the HMAC over m's raw bytes up to (not including) this
// attribute and appends its first 4 bytes as AttrMessageIntegrity32. m
// must already have every other attribute added.
func (m MessageIntegrity32) AddTo(msg *stun.Message) error {
	mac := hmac.New(sha1.New, m)
	if _, err := mac.Write(msg.Raw); err != nil {
		return err
	}
	msg.Add(AttrMessageIntegrity32, mac.Sum(nil)[:4])
	return nil
}

// messageIntegrity32TLVSize is MESSAGE-INTEGRITY-32's own on-wire size: a
// 4-byte attribute header plus its 4-byte value, no padding needed since
// 4 is already a multiple of 4.
const messageIntegrity32TLVSize = 4 + 4

// messageHeaderSize is the fixed STUN message header size, RFC 5389
// Section 6: 2 bytes type, 2 bytes length, 4 bytes magic cookie, 12 bytes
// transaction id.
const messageHeaderSize = 20

// Check verifies that msg carries a GOOG_PING MESSAGE-INTEGRITY-32 value
// matching password. AddTo signs the message as it stood before this
// attribute was appended, with the header's length field covering only
// those earlier bytes; Check must undo both the append and the length
// bump to hash the same bytes the signer did, exactly as RFC 5389 Section
// 15.4 requires for MESSAGE-INTEGRITY. This attribute is always the last
// one a GOOG_PING message carries (no FINGERPRINT follows it), so the
// bytes before its TLV are simply msg.Raw with its own TLV size trimmed
// off the end.
func (m MessageIntegrity32) Check(msg *stun.Message) error {
	v, err := msg.Get(AttrMessageIntegrity32)
	if err != nil {
		return err
	}
	if err := stun.CheckSize(AttrMessageIntegrity32, len(v), 4); err != nil {
		return err
	}
	if len(msg.Raw) < messageHeaderSize+messageIntegrity32TLVSize {
		return ErrAuthFailed
	}
	signed := append([]byte(nil), msg.Raw[:len(msg.Raw)-messageIntegrity32TLVSize]...)
	binary.BigEndian.PutUint16(signed[2:4], uint16(len(signed)-messageHeaderSize))
	mac := hmac.New(sha1.New, m)
	if _, err := mac.Write(signed); err != nil {
		return err
	}
	if !hmac.Equal(mac.Sum(nil)[:4], v) {
		return ErrAuthFailed
	}
	return nil
}

// Username builds the USERNAME attribute value for a connectivity check,
// RFC 5245 Section 7.1.2.3: "remote_ufrag:local_ufrag".
func Username(remoteUfrag, localUfrag string) stun.Username {
	return stun.NewUsername(remoteUfrag + ":" + localUfrag)
}

// AttrControlling and AttrControlled re-export gortc/ice's ICE-CONTROLLING
// / ICE-CONTROLLED attribute codecs so callers of this package do not need
// to import gortc/ice directly for them.
type (
	AttrControlling = ice.AttrControlling
	AttrControlled  = ice.AttrControlled
)
