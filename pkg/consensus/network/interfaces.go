// Package network defines the network abstraction consumed by the dBFT
// engine. Transport and peer discovery live behind this contract; the
// engine only broadcasts signed payloads and drains an inbound stream.
package network

import (
	"context"
	"time"

	"dbft-federation/pkg/consensus/messages"
)

// NetworkInterface provides consensus message exchange for one validator.
// Broadcasts are fire-and-forget; the engine never awaits acknowledgment.
type NetworkInterface interface {
	// Broadcast sends the signed payload to every other committee member.
	Broadcast(ctx context.Context, payload *messages.Payload) error
	// Receive returns the inbound payload stream.
	Receive() <-chan ReceivedPayload
}

// ReceivedPayload is a consensus payload received from the network.
type ReceivedPayload struct {
	Payload    *messages.Payload
	ReceivedAt time.Time
}
