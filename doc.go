// Package pushrelay provides an idempotent push-notification delivery pipeline.
//
// It includes a payload validator for inbound push messages, a deterministic
// delivery identity with an atomic first-seen store, a dispatcher that feeds
// an optional live listener and a presentation sink, and a correlator that
// raises the "opened" event exactly once per rendered notification.
//
// The fcm subpackage receives push messages from Google's MCS protocol and
// the natsbus subpackage receives them from a NATS subject. Both hand each
// message to Pipeline.HandleMessage.
package pushrelay
