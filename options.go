package chamber

import (
	"context"
	"time"

	"github.com/opd-ai/chamber/config"
	"github.com/opd-ai/chamber/crypto"
	"github.com/opd-ai/chamber/storage/kv"
	"github.com/opd-ai/chamber/transport"
)

// EndpointFactory creates the transport endpoint for the local public ID.
type EndpointFactory func(ctx context.Context, selfID string) (transport.Endpoint, error)

// Options contains configuration options for creating a Messenger.
type Options struct {
	// StoreBackend is one of config.BackendLevelDB, config.BackendRedis
	// or config.BackendMemory. Ignored when DB is set.
	StoreBackend   string
	DataDir        string
	RedisURL       string
	StoreNamespace string
	// DB, when set, is used instead of opening StoreBackend
	DB kv.DB

	SignalingURL   string
	ICEServers     []string
	TURNUsername   string
	TURNCredential string
	ConnectTimeout time.Duration
	// Endpoint, when set, replaces the WebRTC transport
	Endpoint EndpointFactory

	TimeProvider crypto.TimeProvider
}

// NewOptions creates a new Options with the built-in defaults.
func NewOptions() *Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig maps a loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) *Options {
	return &Options{
		StoreBackend:   cfg.Store.Backend,
		DataDir:        cfg.DataDir,
		RedisURL:       cfg.Store.RedisURL,
		StoreNamespace: cfg.Store.Namespace,
		SignalingURL:   cfg.Network.SignalingURL,
		ICEServers:     append([]string(nil), cfg.Network.ICEServers...),
		TURNUsername:   cfg.Network.TURNUsername,
		TURNCredential: cfg.Network.TURNCredential,
		ConnectTimeout: cfg.Network.ConnectTimeout.Duration,
	}
}

// MemoryEndpoints returns an EndpointFactory over an in-process network.
func MemoryEndpoints(network *transport.MemoryNetwork) EndpointFactory {
	return func(_ context.Context, selfID string) (transport.Endpoint, error) {
		return network.Endpoint(selfID), nil
	}
}
