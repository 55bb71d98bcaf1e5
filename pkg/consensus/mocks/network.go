// Package mocks provides mock implementations of consensus interfaces for testing.
package mocks

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"dbft-federation/pkg/consensus/messages"
	"dbft-federation/pkg/consensus/network"
	"dbft-federation/pkg/consensus/types"
)

// NetworkConfig contains configuration parameters for MockNetwork behavior.
type NetworkConfig struct {
	// BaseDelay is the base delay for message delivery
	BaseDelay time.Duration
	// DelayVariation is the random variation added to base delay
	DelayVariation time.Duration
	// PacketLossRate is the probability (0.0-1.0) of messages being dropped
	PacketLossRate float64
	// DuplicationRate is the probability (0.0-1.0) of messages being duplicated
	DuplicationRate float64
	// QueueSize is the buffer size for the inbound payload queue
	QueueSize int
}

// DefaultNetworkConfig returns a configuration suitable for most tests.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		BaseDelay:       0,
		DelayVariation:  0,
		PacketLossRate:  0.0,
		DuplicationRate: 0.0,
		QueueSize:       256,
	}
}

// NetworkFailureConfig contains failure injection parameters.
type NetworkFailureConfig struct {
	// PartitionedValidators contains validator indices isolated from the network
	PartitionedValidators map[types.ValidatorIndex]bool
	// FailingBroadcastRate is the probability of Broadcast operations failing
	FailingBroadcastRate float64
}

// DefaultNetworkFailureConfig returns a failure configuration with no failures.
func DefaultNetworkFailureConfig() NetworkFailureConfig {
	return NetworkFailureConfig{
		PartitionedValidators: make(map[types.ValidatorIndex]bool),
		FailingBroadcastRate:  0.0,
	}
}

// MockNetwork implements NetworkInterface for testing with configurable
// delivery behavior. Instances are connected into a committee with
// ConnectCommittee; each Broadcast fans out to every connected peer.
type MockNetwork struct {
	index    types.ValidatorIndex
	peers    map[types.ValidatorIndex]*MockNetwork
	queue    chan network.ReceivedPayload
	config   NetworkConfig
	failures NetworkFailureConfig
	mu       sync.RWMutex
	rand     *rand.Rand
	stopped  bool
}

// NewMockNetwork creates a mock network endpoint for one validator.
func NewMockNetwork(index types.ValidatorIndex, config NetworkConfig, failures NetworkFailureConfig) *MockNetwork {
	if failures.PartitionedValidators == nil {
		failures.PartitionedValidators = make(map[types.ValidatorIndex]bool)
	}
	return &MockNetwork{
		index:    index,
		peers:    make(map[types.ValidatorIndex]*MockNetwork),
		queue:    make(chan network.ReceivedPayload, config.QueueSize),
		config:   config,
		failures: failures,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano() + int64(index))),
	}
}

// ConnectCommittee wires a full mesh between the given endpoints.
func ConnectCommittee(endpoints []*MockNetwork) {
	for _, a := range endpoints {
		a.mu.Lock()
		a.peers = make(map[types.ValidatorIndex]*MockNetwork)
		for _, b := range endpoints {
			if b.index != a.index {
				a.peers[b.index] = b
			}
		}
		a.mu.Unlock()
	}
}

// SetPartitioned isolates or reconnects a validator.
func (mn *MockNetwork) SetPartitioned(index types.ValidatorIndex, partitioned bool) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.failures.PartitionedValidators[index] = partitioned
}

// Broadcast fans the payload out to every connected, non-partitioned peer.
func (mn *MockNetwork) Broadcast(_ context.Context, payload *messages.Payload) error {
	mn.mu.RLock()
	defer mn.mu.RUnlock()

	if mn.stopped {
		return network.NewNetworkError(network.ErrorTypeClosed, "network is stopped")
	}
	if mn.failures.PartitionedValidators[mn.index] {
		return network.NewNetworkError(network.ErrorTypeBroadcast, "validator is partitioned")
	}
	if mn.rand.Float64() < mn.failures.FailingBroadcastRate {
		return network.NewNetworkError(network.ErrorTypeBroadcast, "simulated broadcast failure")
	}

	for _, peer := range mn.peers {
		if mn.failures.PartitionedValidators[peer.index] {
			continue
		}
		if mn.rand.Float64() < mn.config.PacketLossRate {
			continue
		}
		mn.deliver(peer, payload)
		if mn.rand.Float64() < mn.config.DuplicationRate {
			mn.deliver(peer, payload)
		}
	}
	return nil
}

// deliver enqueues the payload at the target, optionally after a delay.
// Delivery is best-effort: a full queue drops the payload like a lossy
// link would.
func (mn *MockNetwork) deliver(target *MockNetwork, payload *messages.Payload) {
	delay := mn.config.BaseDelay
	if mn.config.DelayVariation > 0 {
		delay += time.Duration(mn.rand.Int63n(int64(mn.config.DelayVariation)))
	}
	enqueue := func() {
		target.mu.RLock()
		defer target.mu.RUnlock()
		if target.stopped {
			return
		}
		select {
		case target.queue <- network.ReceivedPayload{Payload: payload, ReceivedAt: time.Now()}:
		default:
		}
	}
	if delay == 0 {
		enqueue()
		return
	}
	time.AfterFunc(delay, enqueue)
}

// Receive returns the inbound payload stream.
func (mn *MockNetwork) Receive() <-chan network.ReceivedPayload {
	return mn.queue
}

// Inject places a payload directly into this endpoint's inbound queue,
// bypassing delivery simulation. Used by tests to feed crafted payloads.
func (mn *MockNetwork) Inject(payload *messages.Payload) {
	mn.queue <- network.ReceivedPayload{Payload: payload, ReceivedAt: time.Now()}
}

// Stop disconnects the endpoint. Subsequent broadcasts fail and inbound
// deliveries are ignored.
func (mn *MockNetwork) Stop() {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.stopped = true
}
