package fcm

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MCS stanzas are small proto2 messages. They are encoded field by field with
// protowire; only the fields this client reads or writes are modelled.

// authServiceAndroidID is LoginRequest.AuthService ANDROID_ID.
const authServiceAndroidID = 2

type setting struct {
	Name  string
	Value string
}

type loginRequest struct {
	ID                    string
	Domain                string
	User                  string
	Resource              string
	AuthToken             string
	DeviceID              string
	LastRmqID             int64
	Settings              []setting
	ReceivedPersistentIDs []string
	AdaptiveHeartbeat     bool
	UseRmq2               bool
	AccountID             int64
	AuthService           int32
	NetworkType           int32
}

func (m *loginRequest) marshal() []byte {
	var b []byte
	b = appendString(b, 1, m.ID)
	b = appendString(b, 2, m.Domain)
	b = appendString(b, 3, m.User)
	b = appendString(b, 4, m.Resource)
	b = appendString(b, 5, m.AuthToken)
	b = appendString(b, 6, m.DeviceID)
	b = appendVarint(b, 7, uint64(m.LastRmqID))
	for _, s := range m.Settings {
		var sb []byte
		sb = appendString(sb, 1, s.Name)
		sb = appendString(sb, 2, s.Value)
		b = appendMessage(b, 8, sb)
	}
	for _, id := range m.ReceivedPersistentIDs {
		b = appendString(b, 10, id)
	}
	b = appendBool(b, 12, m.AdaptiveHeartbeat)
	b = appendBool(b, 14, m.UseRmq2)
	b = appendVarint(b, 15, uint64(m.AccountID))
	b = appendVarint(b, 16, uint64(m.AuthService))
	b = appendVarint(b, 17, uint64(m.NetworkType))
	return b
}

type loginResponse struct {
	ID        string
	ErrorCode int32
	ErrorMsg  string
}

func (m *loginResponse) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			m.ID = string(f.bytes)
		case 3:
			return rangeFields(f.bytes, func(num protowire.Number, f field) error {
				switch num {
				case 1:
					m.ErrorCode = int32(f.varint)
				case 2:
					m.ErrorMsg = string(f.bytes)
				}
				return nil
			})
		}
		return nil
	})
}

// heartbeat is the shape of both HeartbeatPing and HeartbeatAck.
type heartbeat struct {
	StreamID             int32
	LastStreamIDReceived int32
	Status               int64
}

func (m *heartbeat) marshal() []byte {
	var b []byte
	if m.StreamID != 0 {
		b = appendVarint(b, 1, uint64(m.StreamID))
	}
	if m.LastStreamIDReceived != 0 {
		b = appendVarint(b, 2, uint64(m.LastStreamIDReceived))
	}
	if m.Status != 0 {
		b = appendVarint(b, 3, uint64(m.Status))
	}
	return b
}

func (m *heartbeat) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			m.StreamID = int32(f.varint)
		case 2:
			m.LastStreamIDReceived = int32(f.varint)
		case 3:
			m.Status = int64(f.varint)
		}
		return nil
	})
}

type appData struct {
	Key   string
	Value string
}

type dataMessage struct {
	ID           string
	From         string
	To           string
	Category     string
	Token        string
	AppData      []appData
	PersistentID string
	TTL          int32
	Sent         int64
	RawData      []byte
}

func (m *dataMessage) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, f field) error {
		switch num {
		case 2:
			m.ID = string(f.bytes)
		case 3:
			m.From = string(f.bytes)
		case 4:
			m.To = string(f.bytes)
		case 5:
			m.Category = string(f.bytes)
		case 6:
			m.Token = string(f.bytes)
		case 7:
			var kv appData
			if err := rangeFields(f.bytes, func(num protowire.Number, f field) error {
				switch num {
				case 1:
					kv.Key = string(f.bytes)
				case 2:
					kv.Value = string(f.bytes)
				}
				return nil
			}); err != nil {
				return fmt.Errorf("app_data: %w", err)
			}
			m.AppData = append(m.AppData, kv)
		case 9:
			m.PersistentID = string(f.bytes)
		case 17:
			m.TTL = int32(f.varint)
		case 18:
			m.Sent = int64(f.varint)
		case 21:
			m.RawData = append([]byte(nil), f.bytes...)
		}
		return nil
	})
}

type iqStanza struct {
	RmqID int64
	Type  int32
	ID    string
	From  string
	To    string
}

func (m *iqStanza) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			m.RmqID = int64(f.varint)
		case 2:
			m.Type = int32(f.varint)
		case 3:
			m.ID = string(f.bytes)
		case 4:
			m.From = string(f.bytes)
		case 5:
			m.To = string(f.bytes)
		}
		return nil
	})
}

type streamError struct {
	Type string
	Text string
}

func (m *streamError) unmarshal(b []byte) error {
	return rangeFields(b, func(num protowire.Number, f field) error {
		switch num {
		case 1:
			m.Type = string(f.bytes)
		case 2:
			m.Text = string(f.bytes)
		}
		return nil
	})
}

// ---------------------------------------------------------------------------
// protowire helpers
// ---------------------------------------------------------------------------

// field is one decoded field value. varint holds varint and fixed-width
// values; bytes holds length-delimited ones.
type field struct {
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

// rangeFields calls fn for every field of the encoded message b, in wire order.
// Groups are skipped.
func rangeFields(b []byte, fn func(protowire.Number, field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.varint, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.varint = uint64(v)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(num, f); err != nil {
			return err
		}
	}
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendFixed64(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, v)
}
