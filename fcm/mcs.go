package fcm

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const mcsVersion = 41

// mcsTag identifies MCS protocol message types.
type mcsTag uint8

const (
	tagHeartbeatPing     mcsTag = 0
	tagHeartbeatAck      mcsTag = 1
	tagLoginRequest      mcsTag = 2
	tagLoginResponse     mcsTag = 3
	tagClose             mcsTag = 4
	tagIqStanza          mcsTag = 7
	tagDataMessageStanza mcsTag = 8
	tagStreamErrorStanza mcsTag = 10
)

// maxPacketSize bounds a single stanza body.
const maxPacketSize = 4 << 20

// mcsClient speaks the MCS (Mobile Connection Server) protocol over one connection.
type mcsClient struct {
	conn          io.ReadWriteCloser
	androidID     uint64
	securityToken uint64
	persistentIDs []string
	logger        *slog.Logger

	heartbeatInterval time.Duration

	onDataMessage  func(msg dataMessage)
	onConnected    func()
	onDisconnected func(reason string)

	writeMu sync.Mutex
}

func newMCSClient(conn io.ReadWriteCloser, androidID, securityToken uint64, persistentIDs []string, logger *slog.Logger) *mcsClient {
	return &mcsClient{
		conn:              conn,
		androidID:         androidID,
		securityToken:     securityToken,
		persistentIDs:     persistentIDs,
		logger:            logger,
		heartbeatInterval: 5 * time.Minute,
	}
}

// connect performs the login handshake and runs the read loop until ctx is
// cancelled, the server closes the stream, or an error occurs.
func (m *mcsClient) connect(ctx context.Context) error {
	connClosed := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			m.conn.Close()
		case <-connClosed:
		}
	}()
	defer close(connClosed)

	if err := m.sendLogin(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("mcs: send login: %w", err)
	}

	var vBuf [1]byte
	if _, err := io.ReadFull(m.conn, vBuf[:]); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("mcs: read version: %w", err)
	}
	if vBuf[0] < mcsVersion {
		m.logger.Warn("MCS server speaks an older protocol version", "version", vBuf[0])
	}

	heartbeatCtx, heartbeatCancel := context.WithCancel(ctx)
	defer heartbeatCancel()
	go m.heartbeatLoop(heartbeatCtx)

	err := m.readLoop()
	if ctx.Err() != nil {
		if m.onDisconnected != nil {
			m.onDisconnected("context cancelled")
		}
		return nil
	}
	if m.onDisconnected != nil {
		reason := "read loop ended"
		if err != nil {
			reason = err.Error()
		}
		m.onDisconnected(reason)
	}
	return err
}

func (m *mcsClient) sendLogin() error {
	decID := strconv.FormatUint(m.androidID, 10)
	loginID := fmt.Sprintf("android-%x", m.androidID)

	req := &loginRequest{
		ID:                    loginID,
		Domain:                "mcs.android.com",
		User:                  decID,
		Resource:              decID,
		AuthToken:             strconv.FormatUint(m.securityToken, 10),
		DeviceID:              loginID,
		LastRmqID:             1,
		Settings:              []setting{{Name: "new_vc", Value: "1"}},
		ReceivedPersistentIDs: m.persistentIDs,
		AdaptiveHeartbeat:     false,
		UseRmq2:               true,
		AccountID:             1000000,
		AuthService:           authServiceAndroidID,
		NetworkType:           1,
	}
	return m.sendPacket(tagLoginRequest, req.marshal(), true)
}

func (m *mcsClient) sendPacket(tag mcsTag, data []byte, includeVersion bool) error {
	// version + tag + size + body in one write; net.Conn writes are not
	// guaranteed atomic across calls.
	buf := make([]byte, 0, 2+binary.MaxVarintLen64+len(data))
	if includeVersion {
		buf = append(buf, mcsVersion)
	}
	buf = append(buf, byte(tag))
	buf = binary.AppendUvarint(buf, uint64(len(data)))
	buf = append(buf, data...)

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_, err := m.conn.Write(buf)
	return err
}

func (m *mcsClient) readLoop() error {
	for {
		tag, err := m.readTagByte()
		if err != nil {
			return fmt.Errorf("mcs: read tag: %w", err)
		}

		size, err := m.readVarint()
		if err != nil {
			return fmt.Errorf("mcs: read size: %w", err)
		}
		if size > maxPacketSize {
			return fmt.Errorf("mcs: packet too large: %d bytes", size)
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(m.conn, data); err != nil {
			return fmt.Errorf("mcs: read body: %w", err)
		}

		if err := m.handlePacket(tag, data); err != nil {
			return err
		}
	}
}

func (m *mcsClient) handlePacket(tag mcsTag, data []byte) error {
	switch tag {
	case tagLoginResponse:
		var resp loginResponse
		if err := resp.unmarshal(data); err != nil {
			return fmt.Errorf("mcs: unmarshal LoginResponse: %w", err)
		}
		if resp.ErrorCode != 0 {
			return fmt.Errorf("mcs: login rejected: code=%d message=%s", resp.ErrorCode, resp.ErrorMsg)
		}
		m.logger.Debug("MCS login response", "id", resp.ID)
		m.persistentIDs = nil
		if m.onConnected != nil {
			m.onConnected()
		}

	case tagHeartbeatPing:
		var ping heartbeat
		if err := ping.unmarshal(data); err != nil {
			m.logger.Warn("MCS: failed to unmarshal HeartbeatPing", "error", err)
			return nil
		}
		m.logger.Debug("MCS heartbeat ping received", "stream_id", ping.StreamID)
		ack := &heartbeat{}
		if err := m.sendPacket(tagHeartbeatAck, ack.marshal(), false); err != nil {
			return fmt.Errorf("mcs: send heartbeat ack: %w", err)
		}

	case tagHeartbeatAck:
		m.logger.Debug("MCS heartbeat ack received")

	case tagDataMessageStanza:
		var msg dataMessage
		if err := msg.unmarshal(data); err != nil {
			m.logger.Warn("MCS: failed to unmarshal DataMessageStanza", "error", err)
			return nil
		}
		m.logger.Debug("MCS data message", "from", msg.From, "category", msg.Category, "persistentId", msg.PersistentID)
		if m.onDataMessage != nil {
			m.onDataMessage(msg)
		}

	case tagClose:
		return fmt.Errorf("mcs: server sent close")

	case tagIqStanza:
		var iq iqStanza
		if err := iq.unmarshal(data); err != nil {
			m.logger.Warn("MCS: failed to unmarshal IqStanza", "error", err)
		} else {
			m.logger.Info("MCS IqStanza received", "type", iq.Type, "id", iq.ID, "from", iq.From, "to", iq.To)
		}

	case tagStreamErrorStanza:
		var se streamError
		if err := se.unmarshal(data); err != nil {
			return fmt.Errorf("mcs: stream error (unmarshal failed: %w)", err)
		}
		return fmt.Errorf("mcs: stream error: type=%s text=%s", se.Type, se.Text)

	default:
		m.logger.Debug("MCS unknown tag", "tag", tag)
	}

	return nil
}

func (m *mcsClient) readTagByte() (mcsTag, error) {
	var buf [1]byte
	if _, err := io.ReadFull(m.conn, buf[:]); err != nil {
		return 0, err
	}
	return mcsTag(buf[0]), nil
}

func (m *mcsClient) readVarint() (uint64, error) {
	var result uint64
	var shift uint
	for {
		var buf [1]byte
		if _, err := io.ReadFull(m.conn, buf[:]); err != nil {
			return 0, err
		}
		b := buf[0]
		result |= uint64(b&0x7F) << shift
		if b < 0x80 {
			break
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("varint overflow: more than 10 bytes")
		}
	}
	return result, nil
}

func (m *mcsClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping := &heartbeat{}
			if err := m.sendPacket(tagHeartbeatPing, ping.marshal(), false); err != nil {
				m.logger.Warn("MCS: failed to send heartbeat ping", "error", err)
				return
			}
			m.logger.Debug("MCS heartbeat ping sent")
		}
	}
}
