package pushrelay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const activationVersion = 1

// activation is the content of an activation payload. It embeds the whole
// envelope so an open can be correlated without a lookup store.
type activation struct {
	Version        int              `json:"v"`
	NotificationID int64            `json:"nid"`
	Identity       DeliveryIdentity `json:"idn"`
	Envelope       Envelope         `json:"env"`
}

// EncodeActivation builds the opaque payload handed to the presentation sink.
func EncodeActivation(notificationID int64, identity DeliveryIdentity, env Envelope) (string, error) {
	data, err := json.Marshal(activation{
		Version:        activationVersion,
		NotificationID: notificationID,
		Identity:       identity,
		Envelope:       env,
	})
	if err != nil {
		return "", fmt.Errorf("encoding activation payload: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeActivation reverses EncodeActivation. Every failure wraps ErrDecodeFailure.
func DecodeActivation(payload string) (notificationID int64, identity DeliveryIdentity, env Envelope, err error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return 0, "", Envelope{}, fmt.Errorf("%w: empty payload", ErrDecodeFailure)
	}
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(payload, "="))
	if err != nil {
		return 0, "", Envelope{}, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}

	var a activation
	if err := json.Unmarshal(data, &a); err != nil {
		return 0, "", Envelope{}, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}
	if a.Version != activationVersion {
		return 0, "", Envelope{}, fmt.Errorf("%w: unsupported version %d", ErrDecodeFailure, a.Version)
	}
	if a.NotificationID == 0 {
		return 0, "", Envelope{}, fmt.Errorf("%w: missing notification id", ErrDecodeFailure)
	}
	if a.Identity == "" {
		a.Identity = Assign(a.Envelope)
	}
	return a.NotificationID, a.Identity, a.Envelope, nil
}
