package config

// Node is the per-node runtime configuration loaded by cmd/node via
// ardanlabs/conf/v3. Field tags follow the conf struct-tag convention used
// throughout the ardanlabs/blockchain family of example repos: a default
// value plus a short usage string surfaced in --help.
type Node struct {
	ListenAddr    string   `conf:"default:0.0.0.0:9000,help:address this node listens for peer connections on"`
	BootstrapPeer string   `conf:"default:,help:host:port of an existing peer to connect to on startup"`
	KeyFile       string   `conf:"default:,help:path to a hex-encoded secp256k1 private key used for mining rewards; a new key is generated if empty"`
	DataDir       string   `conf:"default:./data,help:directory for node data (reserved for future on-disk persistence)"`
	Mine          bool     `conf:"default:true,help:whether this node mines new blocks"`
	MaxPeers      int      `conf:"default:10,help:maximum number of simultaneous peer connections"`
}
