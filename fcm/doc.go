// Package fcm receives push messages over Google's MCS (Mobile Connection
// Server) protocol.
//
// It performs an Android GCM checkin, requests a push token for a sender and
// keeps an MCS connection open, turning every DataMessageStanza into a
// pushrelay.RawMessage. Received persistent ids are acknowledged on the next
// login so the server stops redelivering them.
//
// Usage:
//
//	client := fcm.NewClient(sessionDir)
//	client.OnMessage(func(ctx context.Context, msg fcm.Message) {
//		pipeline.HandleMessage(ctx, msg.Data)
//	})
//	token, err := client.Register(ctx, fcm.Registration{SenderID: "1234", AppPackage: "com.example.app"})
//	err = client.Listen(ctx)
package fcm
