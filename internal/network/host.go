package network

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	"github.com/rs/zerolog"

	"dbft-federation/internal/types"
)

// HostWrapper wraps libp2p host with additional functionality
type HostWrapper struct {
	host   host.Host
	config *types.NetworkConfig
	logger zerolog.Logger
}

// NewHostWrapper creates a new host wrapper with the given configuration
func NewHostWrapper(config *types.NetworkConfig, privateKey crypto.PrivKey, logger zerolog.Logger) (*HostWrapper, error) {
	var opts []libp2p.Option

	if privateKey != nil {
		opts = append(opts, libp2p.Identity(privateKey))
	}

	opts = append(opts, libp2p.Transport(tcp.NewTCPTransport))
	opts = append(opts, libp2p.DefaultSecurity)
	opts = append(opts, libp2p.DefaultMuxers)

	// Connection manager prunes excess connections; a committee is small
	// so the watermarks stay low.
	connManager, err := connmgr.NewConnManager(
		16,
		64,
		connmgr.WithGracePeriod(10*time.Second),
		connmgr.WithSilencePeriod(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}
	opts = append(opts, libp2p.ConnectionManager(connManager))

	// Resource manager enforces one connection per peer so duplicate dials
	// between two validators collapse.
	concreteLimits := rcmgr.DefaultLimits.AutoScale()
	cfg := rcmgr.PartialLimitConfig{
		System: rcmgr.ResourceLimits{
			Conns:         rcmgr.LimitVal(256),
			ConnsInbound:  rcmgr.LimitVal(128),
			ConnsOutbound: rcmgr.LimitVal(128),
		},
		PeerDefault: rcmgr.ResourceLimits{
			Conns:         rcmgr.LimitVal(1),
			ConnsInbound:  rcmgr.LimitVal(1),
			ConnsOutbound: rcmgr.LimitVal(1),
		},
	}
	limiter := rcmgr.NewFixedLimiter(cfg.Build(concreteLimits))
	resourceManager, err := rcmgr.NewResourceManager(limiter)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager: %w", err)
	}
	opts = append(opts, libp2p.ResourceManager(resourceManager))

	var listenAddrs []multiaddr.Multiaddr
	for _, addrStr := range config.Addresses {
		addr, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid listen address %s: %w", addrStr, err)
		}
		listenAddrs = append(listenAddrs, addr)
	}
	if len(listenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrs(listenAddrs...))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("peer_id", h.ID().String()).
		Interface("addresses", h.Addrs()).
		Msg("libp2p host created")

	return &HostWrapper{
		host:   h,
		config: config,
		logger: logger,
	}, nil
}

// Host returns the underlying libp2p host
func (hw *HostWrapper) Host() host.Host {
	return hw.host
}

// Close closes the host
func (hw *HostWrapper) Close() error {
	return hw.host.Close()
}

// Connect connects to a peer at the given address
func (hw *HostWrapper) Connect(ctx context.Context, addr multiaddr.Multiaddr) error {
	addrInfo, err := parseMultiaddr(addr)
	if err != nil {
		return err
	}

	return hw.host.Connect(ctx, *addrInfo)
}

// parseMultiaddr parses a multiaddr and extracts peer info
func parseMultiaddr(addr multiaddr.Multiaddr) (*peer.AddrInfo, error) {
	addrInfo, err := peer.AddrInfoFromP2pAddr(addr)
	if err == nil {
		return addrInfo, nil
	}

	// If no peer ID in address, return without peer ID
	return &peer.AddrInfo{
		Addrs: []multiaddr.Multiaddr{addr},
	}, nil
}

// ConvertPrivateKeyFromBase64 converts a base64 Ed25519 private key (from KeyManager)
// to a libp2p crypto.PrivKey for use with libp2p
func ConvertPrivateKeyFromBase64(privateKeyBase64 string) (crypto.PrivKey, error) {
	if privateKeyBase64 == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}

	keyBytes, err := base64.StdEncoding.DecodeString(privateKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid private key base64: %w", err)
	}

	if len(keyBytes) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: expected %d, got %d", ed25519.PrivateKeySize, len(keyBytes))
	}

	ed25519Key := ed25519.PrivateKey(keyBytes)
	libp2pKey, err := crypto.UnmarshalEd25519PrivateKey(ed25519Key)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal Ed25519 private key: %w", err)
	}

	return libp2pKey, nil
}
