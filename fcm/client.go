package fcm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/slush-dev/pushrelay"
)

// DefaultMCSAddr is Google's MCS endpoint.
const DefaultMCSAddr = "mtalk.google.com:5228"

// credentialsFile is the name of the credentials file inside the session directory.
const credentialsFile = "fcm_credentials.json"

// ErrNoCredentials is returned by Listen when nothing has been registered yet.
var ErrNoCredentials = errors.New("fcm: no credentials; register first")

// Message is one data message delivered over MCS.
type Message struct {
	PersistentID string
	From         string
	Category     string
	SentAt       time.Time
	Data         pushrelay.RawMessage
}

// Credentials holds the Android device credentials and push token.
type Credentials struct {
	AndroidID     uint64       `json:"androidId"`
	SecurityToken uint64       `json:"securityToken"`
	Token         string       `json:"token,omitempty"`
	Registration  Registration `json:"registration"`
	PersistentIDs []string     `json:"persistent_ids"`
}

// Option configures Client.
type Option func(*Client)

// WithLogger sets a custom logger for Client.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client for checkin and registration.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithMCSAddr overrides the MCS endpoint.
func WithMCSAddr(addr string) Option {
	return func(c *Client) {
		c.mcsAddr = addr
	}
}

// WithDevice overrides the device presented to GCM.
func WithDevice(device AndroidDeviceInfo) Option {
	return func(c *Client) {
		c.device = device
	}
}

// Client registers with GCM and receives data messages over MCS.
type Client struct {
	credentials *Credentials
	sessionDir  string
	logger      *slog.Logger
	httpClient  *http.Client
	mcsAddr     string
	device      AndroidDeviceInfo
	mu          sync.Mutex

	// dialMCS is overridable for testing (returns a conn to MCS server).
	dialMCS func(ctx context.Context) (io.ReadWriteCloser, error)

	onMessage      func(context.Context, Message)
	onConnected    func()
	onDisconnected func()
	onError        func(error)
}

// NewClient creates a new Client persisting credentials under sessionDir.
func NewClient(sessionDir string, opts ...Option) *Client {
	c := &Client{
		sessionDir: sessionDir,
		logger:     slog.Default(),
		httpClient: http.DefaultClient,
		mcsAddr:    DefaultMCSAddr,
		device:     DefaultAndroidDevice(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current push token (empty if not registered).
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credentials == nil {
		return ""
	}
	return c.credentials.Token
}

// Credentials returns a copy of the current credentials (nil if not registered).
func (c *Client) Credentials() *Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credentials == nil {
		return nil
	}
	cpy := *c.credentials
	cpy.PersistentIDs = append([]string(nil), c.credentials.PersistentIDs...)
	return &cpy
}

// OnMessage registers the callback for data messages. Must be called before Listen().
func (c *Client) OnMessage(fn func(context.Context, Message)) { c.onMessage = fn }

// OnConnected registers a callback invoked when the MCS login succeeds.
// Must be called before Listen().
func (c *Client) OnConnected(fn func()) { c.onConnected = fn }

// OnDisconnected registers a callback invoked when the MCS connection drops.
// Must be called before Listen().
func (c *Client) OnDisconnected(fn func()) { c.onDisconnected = fn }

// OnError registers a callback for messages that could not be converted.
// Must be called before Listen().
func (c *Client) OnError(fn func(error)) { c.onError = fn }

// Register checks in a device and requests a push token for reg, persisting
// the result. Credentials already on disk for the same sender are reused.
func (c *Client) Register(ctx context.Context, reg Registration) (string, error) {
	if reg.SenderID == "" {
		return "", ErrNoSender
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.credentials == nil {
		if err := c.loadCredentials(); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to load persisted FCM credentials; attempting fresh registration", "error", err)
		}
	}
	if c.credentials != nil && c.credentials.Token != "" && c.credentials.Registration.SenderID == reg.SenderID {
		c.logger.Debug("FCM credentials already exist, reusing token")
		return c.credentials.Token, nil
	}

	httpClient := c.loggingHTTPClient()

	var androidID, securityToken uint64
	if c.credentials != nil {
		androidID, securityToken = c.credentials.AndroidID, c.credentials.SecurityToken
	}
	androidID, securityToken, err := gcmCheckin(ctx, httpClient, androidID, securityToken, c.device)
	if err != nil {
		return "", fmt.Errorf("FCM registration failed (checkin): %w", err)
	}
	c.logger.Debug("GCM checkin complete", "androidId", androidID)

	token, err := gcmRegister(ctx, httpClient, androidID, securityToken, reg, c.device)
	if err != nil {
		return "", fmt.Errorf("FCM registration failed (register): %w", err)
	}
	if token == "" {
		return "", fmt.Errorf("FCM registration returned empty token")
	}

	c.credentials = &Credentials{
		AndroidID:     androidID,
		SecurityToken: securityToken,
		Token:         token,
		Registration:  reg,
		PersistentIDs: []string{},
	}
	if err := c.saveCredentials(); err != nil {
		c.logger.Error("Failed to save FCM credentials", "error", err)
	}

	c.logger.Info("FCM registration complete", "sender_id", reg.SenderID, "token_prefix", truncate(token, 20))
	return token, nil
}

// Listen connects to MCS and delivers data messages to the OnMessage callback.
// It blocks until ctx is cancelled or the connection ends.
func (c *Client) Listen(ctx context.Context) error {
	c.mu.Lock()
	if c.credentials == nil {
		if err := c.loadCredentials(); err != nil {
			c.mu.Unlock()
			if errors.Is(err, os.ErrNotExist) {
				return ErrNoCredentials
			}
			return err
		}
	}
	androidID, securityToken := c.credentials.AndroidID, c.credentials.SecurityToken
	persistentIDs := append([]string(nil), c.credentials.PersistentIDs...)
	c.mu.Unlock()

	if androidID == 0 {
		return ErrNoCredentials
	}

	conn, err := c.dialMCSConn(ctx)
	if err != nil {
		return fmt.Errorf("MCS connect: %w", err)
	}

	mcs := newMCSClient(conn, androidID, securityToken, persistentIDs, c.logger)
	mcs.onConnected = func() {
		c.logger.Debug("MCS connected")
		if c.onConnected != nil {
			c.onConnected()
		}
	}
	mcs.onDisconnected = func(reason string) {
		c.logger.Debug("MCS disconnected", "reason", reason)
		if c.onDisconnected != nil {
			c.onDisconnected()
		}
	}
	mcs.onDataMessage = func(msg dataMessage) {
		c.handleMCSMessage(ctx, msg)
	}

	return mcs.connect(ctx)
}

// dialMCSConn dials the MCS endpoint over TLS, or uses the test hook.
func (c *Client) dialMCSConn(ctx context.Context) (io.ReadWriteCloser, error) {
	if c.dialMCS != nil {
		return c.dialMCS(ctx)
	}
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 30 * time.Second}}
	return dialer.DialContext(ctx, "tcp", c.mcsAddr)
}

// handleMCSMessage converts a DataMessageStanza into a Message and hands it
// to the callback.
func (c *Client) handleMCSMessage(ctx context.Context, msg dataMessage) {
	c.logger.Debug("MCS message received", "persistentId", msg.PersistentID)

	data, err := messageData(msg)
	if err != nil {
		c.logger.Warn("Failed to parse FCM data message", "error", err, "persistentId", msg.PersistentID)
		if c.onError != nil {
			c.onError(fmt.Errorf("parsing FCM message: %w", err))
		}
		c.addPersistentID(msg.PersistentID)
		return
	}

	out := Message{
		PersistentID: msg.PersistentID,
		From:         msg.From,
		Category:     msg.Category,
		Data:         data,
	}
	if msg.Sent > 0 {
		out.SentAt = time.UnixMilli(msg.Sent).UTC()
	}
	if c.onMessage != nil {
		c.onMessage(ctx, out)
	}

	c.addPersistentID(msg.PersistentID)
}

// messageData flattens a data message into a RawMessage. A raw_data body
// takes precedence over app data.
func messageData(msg dataMessage) (pushrelay.RawMessage, error) {
	if len(msg.RawData) > 0 {
		return pushrelay.DecodeRawMessage(msg.RawData)
	}
	raw := make(pushrelay.RawMessage, len(msg.AppData))
	for _, kv := range msg.AppData {
		raw[kv.Key] = kv.Value
	}
	return raw, nil
}

// maxPersistentIDs is the maximum number of persistent IDs to keep.
// Older IDs are pruned to bound the credential file and the LoginRequest.
const maxPersistentIDs = 200

// addPersistentID appends a persistent ID and saves credentials.
func (c *Client) addPersistentID(id string) {
	if id == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credentials == nil {
		return
	}
	c.credentials.PersistentIDs = append(c.credentials.PersistentIDs, id)
	if len(c.credentials.PersistentIDs) > maxPersistentIDs {
		c.credentials.PersistentIDs = c.credentials.PersistentIDs[len(c.credentials.PersistentIDs)-maxPersistentIDs:]
	}

	if err := c.saveCredentials(); err != nil {
		c.logger.Error("Failed to save persistent IDs", "error", err)
	}
}

// PersistentIDs returns the ids that will be acknowledged on the next login.
func (c *Client) PersistentIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credentials == nil {
		return nil
	}
	return append([]string(nil), c.credentials.PersistentIDs...)
}

func (c *Client) credentialsPath() string {
	return filepath.Join(c.sessionDir, credentialsFile)
}

// loadCredentials reads credentials from disk. Callers hold c.mu.
func (c *Client) loadCredentials() error {
	data, err := os.ReadFile(c.credentialsPath())
	if err != nil {
		return err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parsing FCM credentials: %w", err)
	}
	c.credentials = &creds
	return nil
}

// saveCredentials writes credentials to disk. Callers hold c.mu.
func (c *Client) saveCredentials() error {
	if c.credentials == nil {
		return fmt.Errorf("no credentials to save")
	}
	if err := os.MkdirAll(c.sessionDir, 0o755); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}
	data, err := json.MarshalIndent(c.credentials, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing FCM credentials: %w", err)
	}
	if err := os.WriteFile(c.credentialsPath(), data, 0o600); err != nil {
		return fmt.Errorf("writing FCM credentials: %w", err)
	}
	c.logger.Debug("Saved FCM credentials", "path", c.credentialsPath())
	return nil
}

// loggingHTTPClient wraps the HTTP client with request/response logging when
// the logger is at debug level.
func (c *Client) loggingHTTPClient() *http.Client {
	if !c.logger.Enabled(context.Background(), slog.LevelDebug) {
		return c.httpClient
	}
	transport := c.httpClient.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &http.Client{
		Transport: &loggingRoundTripper{inner: transport, logger: c.logger},
		Timeout:   c.httpClient.Timeout,
	}
}

type loggingRoundTripper struct {
	inner  http.RoundTripper
	logger *slog.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	t.logger.Debug(">>> "+req.Method, "url", req.URL.String())
	for k, v := range req.Header {
		if k == "Authorization" {
			t.logger.Debug("  Request header", "key", k, "value", "<redacted>")
			continue
		}
		t.logger.Debug("  Request header", "key", k, "value", strings.Join(v, ", "))
	}

	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		t.logger.Debug("<<< Error", "error", err)
		return nil, err
	}

	t.logger.Debug("<<< Response", "status", resp.StatusCode, "url", req.URL.String())
	respBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr == nil {
		t.logger.Debug("  Response body", "length", len(respBody), "data", truncate(string(respBody), 200))
		resp.Body = io.NopCloser(bytes.NewReader(respBody))
	}
	return resp, nil
}

// truncate returns the first maxLen bytes of s, or s itself if shorter.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
