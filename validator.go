package pushrelay

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reserved payload keys.
const (
	DefaultMarkerKey = "_pr"
	IDKey            = "_id"
	TextKey          = "text"
	ActivityKey      = "_activity"
	MetadataKey      = "_md"
	ExpiryKey        = "_exp"

	// CurrentVersion is the highest payload format version understood.
	CurrentVersion = 1
)

// Validator classifies raw transport messages and projects them into envelopes.
type Validator struct {
	// MarkerKey is the reserved key whose presence marks a message as ours.
	// Empty means DefaultMarkerKey.
	MarkerKey string

	// DefaultActivity is used when the payload names no target activity.
	DefaultActivity string
}

func (v Validator) markerKey() string {
	if v.MarkerKey == "" {
		return DefaultMarkerKey
	}
	return v.MarkerKey
}

func (v Validator) reserved(key string) bool {
	switch key {
	case v.markerKey(), IDKey, TextKey, ActivityKey, MetadataKey, ExpiryKey:
		return true
	}
	return false
}

// Validate returns ErrNotBelonging when the marker is absent and a
// *MalformedEnvelopeError when the marker is present but a typed field does
// not parse. Missing optional fields are not errors.
func (v Validator) Validate(raw RawMessage) (Envelope, error) {
	marker, ok := raw[v.markerKey()]
	if !ok {
		return Envelope{}, ErrNotBelonging
	}

	version, err := strconv.Atoi(strings.TrimSpace(marker))
	if err != nil {
		return Envelope{}, &MalformedEnvelopeError{Key: v.markerKey(), Err: err}
	}
	if version < 1 || version > CurrentVersion {
		return Envelope{}, &MalformedEnvelopeError{
			Key: v.markerKey(),
			Err: fmt.Errorf("unsupported payload version %d", version),
		}
	}

	env := Envelope{
		ID:             raw[IDKey],
		Text:           raw[TextKey],
		TargetActivity: raw[ActivityKey],
		Version:        version,
	}
	if env.TargetActivity == "" {
		env.TargetActivity = v.DefaultActivity
	}

	if exp, ok := raw[ExpiryKey]; ok && exp != "" {
		secs, err := strconv.ParseInt(strings.TrimSpace(exp), 10, 64)
		if err != nil {
			return Envelope{}, &MalformedEnvelopeError{Key: ExpiryKey, Err: err}
		}
		t := time.Unix(secs, 0).UTC()
		env.ExpiresAt = &t
	}

	for k, val := range raw {
		if v.reserved(k) {
			continue
		}
		if env.Metadata == nil {
			env.Metadata = make(map[string]string)
		}
		env.Metadata[k] = val
	}

	if md, ok := raw[MetadataKey]; ok && md != "" {
		var extra map[string]string
		if err := json.Unmarshal([]byte(md), &extra); err != nil {
			return Envelope{}, &MalformedEnvelopeError{Key: MetadataKey, Err: err}
		}
		if extra == nil {
			return Envelope{}, &MalformedEnvelopeError{Key: MetadataKey, Err: fmt.Errorf("expected JSON object")}
		}
		if env.Metadata == nil {
			env.Metadata = make(map[string]string, len(extra))
		}
		for k, val := range extra {
			env.Metadata[k] = val
		}
	}

	return env, nil
}
