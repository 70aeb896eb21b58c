package pushrelay

import (
	"encoding/json"

	"github.com/google/uuid"
)

// IdentityNamespace is the UUID v5 namespace delivery identities are derived in.
var IdentityNamespace = uuid.Must(uuid.Parse("3C7C9F0E-5B1D-4E8A-9F6B-2D4A61C0B7E5"))

// DeliveryIdentity is the deduplication key of an envelope.
type DeliveryIdentity string

func (d DeliveryIdentity) String() string { return string(d) }

// canonicalContent is the content an identity is hashed from when the
// envelope carries no explicit id. encoding/json sorts map keys, which keeps
// the encoding stable across deliveries.
type canonicalContent struct {
	Text     string            `json:"t"`
	Activity string            `json:"a"`
	Metadata map[string]string `json:"m"`
}

// Assign derives the delivery identity of env. It depends only on content:
// the explicit id when present, otherwise text, activity and metadata.
func Assign(env Envelope) DeliveryIdentity {
	var name []byte
	if env.ID != "" {
		name = append([]byte("id:"), env.ID...)
	} else {
		data, err := json.Marshal(canonicalContent{
			Text:     env.Text,
			Activity: env.TargetActivity,
			Metadata: env.Metadata,
		})
		if err != nil {
			// map[string]string and strings always marshal.
			panic(err)
		}
		name = append([]byte("content:"), data...)
	}
	return DeliveryIdentity(uuid.NewSHA1(IdentityNamespace, name).String())
}
