// Package network provides the libp2p transport for consensus traffic.
// Each validator maintains one connection per peer; payloads are exchanged
// as length-prefixed frames on a dedicated protocol stream.
package network

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	libp2pnetwork "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"dbft-federation/internal/types"
	"dbft-federation/pkg/consensus/messages"
	consensusnet "dbft-federation/pkg/consensus/network"
)

// ConsensusProtocolID is the libp2p protocol for consensus payload exchange.
const ConsensusProtocolID = protocol.ID("/dbft/consensus/1.0.0")

// maxFrameSize bounds a single payload frame. Larger frames are treated as
// protocol violations and the stream is reset.
const maxFrameSize = 4 << 20

// reconnectInterval is how often disconnected peers are redialed.
const reconnectInterval = 5 * time.Second

// Gossip implements the consensus NetworkInterface over libp2p streams. A
// Broadcast writes the signed payload frame to every connected peer;
// inbound frames are decoded and queued for the consensus loop.
type Gossip struct {
	hostWrapper *HostWrapper
	config      *types.NetworkConfig
	logger      zerolog.Logger

	inbound chan consensusnet.ReceivedPayload

	mu      sync.RWMutex
	started bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGossip creates the consensus gossip layer on top of a host.
func NewGossip(hostWrapper *HostWrapper, config *types.NetworkConfig, logger zerolog.Logger) (*Gossip, error) {
	if hostWrapper == nil || config == nil {
		return nil, fmt.Errorf("gossip requires host and config")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gossip{
		hostWrapper: hostWrapper,
		config:      config,
		logger:      logger.With().Str("component", "gossip").Logger(),
		inbound:     make(chan consensusnet.ReceivedPayload, 1024),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start registers the stream handler and begins dialing configured peers.
func (g *Gossip) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return fmt.Errorf("gossip is already started")
	}

	g.hostWrapper.Host().SetStreamHandler(ConsensusProtocolID, g.handleStream)
	g.started = true

	g.wg.Add(1)
	go g.maintainPeers()

	g.logger.Info().
		Int("configured_peers", len(g.config.Peers)).
		Msg("consensus gossip started")
	return nil
}

// Stop tears down the gossip layer and closes the inbound stream.
func (g *Gossip) Stop() error {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return nil
	}
	g.started = false
	g.mu.Unlock()

	g.cancel()
	g.hostWrapper.Host().RemoveStreamHandler(ConsensusProtocolID)
	g.wg.Wait()
	close(g.inbound)
	return nil
}

// Broadcast writes the signed payload to every connected peer. Per-peer
// write failures are logged and skipped; the broadcast fails only when no
// peer could be reached.
func (g *Gossip) Broadcast(ctx context.Context, payload *messages.Payload) error {
	frame := payload.SerializeSigned()
	if len(frame) > maxFrameSize {
		return consensusnet.NewNetworkError(consensusnet.ErrorTypeBroadcast, "payload exceeds frame limit")
	}

	peers := g.hostWrapper.Host().Network().Peers()
	if len(peers) == 0 {
		return consensusnet.NewNetworkError(consensusnet.ErrorTypeBroadcast, "no connected peers")
	}

	delivered := 0
	for _, peerID := range peers {
		if err := g.writeFrame(ctx, peerID, frame); err != nil {
			g.logger.Warn().Err(err).
				Str("peer", peerID.String()).
				Str("type", payload.Type().String()).
				Msg("frame delivery failed")
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return consensusnet.NewNetworkError(consensusnet.ErrorTypeBroadcast, "broadcast reached no peers")
	}
	return nil
}

// Receive returns the inbound payload stream.
func (g *Gossip) Receive() <-chan consensusnet.ReceivedPayload {
	return g.inbound
}

// writeFrame opens a stream to the peer and writes one length-prefixed frame.
func (g *Gossip) writeFrame(ctx context.Context, peerID peer.ID, frame []byte) error {
	stream, err := g.hostWrapper.Host().NewStream(ctx, peerID, ConsensusProtocolID)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := stream.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := stream.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// handleStream reads frames from an inbound stream until EOF, decoding
// each into a signed payload for the consensus loop.
func (g *Gossip) handleStream(stream libp2pnetwork.Stream) {
	defer stream.Close()
	remote := stream.Conn().RemotePeer()

	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(stream, lenBuf[:]); err != nil {
			if err != io.EOF {
				g.logger.Debug().Err(err).Str("peer", remote.String()).Msg("stream read ended")
			}
			return
		}
		frameLen := binary.LittleEndian.Uint32(lenBuf[:])
		if frameLen == 0 || frameLen > maxFrameSize {
			g.logger.Warn().
				Uint32("frame_len", frameLen).
				Str("peer", remote.String()).
				Msg("invalid frame length, resetting stream")
			stream.Reset()
			return
		}

		frame := make([]byte, frameLen)
		if _, err := io.ReadFull(stream, frame); err != nil {
			g.logger.Debug().Err(err).Str("peer", remote.String()).Msg("truncated frame")
			return
		}

		payload, err := messages.DeserializeSignedPayload(frame)
		if err != nil {
			g.logger.Warn().Err(err).Str("peer", remote.String()).Msg("undecodable payload")
			continue
		}

		select {
		case g.inbound <- consensusnet.ReceivedPayload{Payload: payload, ReceivedAt: time.Now()}:
		case <-g.ctx.Done():
			return
		default:
			// Inbound queue full; drop rather than stall the peer. The
			// consensus layer recovers missed messages on demand.
			g.logger.Warn().Str("peer", remote.String()).Msg("inbound queue full, payload dropped")
		}
	}
}

// maintainPeers dials configured peers and redials them when connections
// drop. Committee membership is static so the peer list comes from config.
func (g *Gossip) maintainPeers() {
	defer g.wg.Done()

	g.dialConfiguredPeers()
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-ticker.C:
			g.dialConfiguredPeers()
		}
	}
}

func (g *Gossip) dialConfiguredPeers() {
	for _, addrStr := range g.config.Peers {
		addr, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			g.logger.Warn().Err(err).Str("address", addrStr).Msg("invalid peer address")
			continue
		}
		addrInfo, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			g.logger.Warn().Err(err).Str("address", addrStr).Msg("peer address lacks peer ID")
			continue
		}
		if g.hostWrapper.Host().Network().Connectedness(addrInfo.ID) == libp2pnetwork.Connected {
			continue
		}

		dialCtx, cancel := context.WithTimeout(g.ctx, g.config.ConnectionTimeout)
		err = g.hostWrapper.Host().Connect(dialCtx, *addrInfo)
		cancel()
		if err != nil {
			g.logger.Debug().Err(err).Str("peer", addrInfo.ID.String()).Msg("peer dial failed")
			continue
		}
		g.logger.Info().Str("peer", addrInfo.ID.String()).Msg("peer connected")
	}
}
