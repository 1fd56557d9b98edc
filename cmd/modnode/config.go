package main

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/holiman/uint256"
	"github.com/naoina/toml"

	"github.com/modality-org/modality-core/common"
)

// defaultConfigPath is where Start looks for a node config when none is
// given on the command line.
const defaultConfigPath = "modnode.toml"

// nodeConfig is the on-disk shape of a node's configuration, loaded with
// naoina/toml the way tos-network-gtos loads its TOML genesis/config
// files.
type nodeConfig struct {
	DataDir             string   `toml:"datadir"`
	Self                string   `toml:"self"`
	PrivateKeyHex       string   `toml:"private_key_hex"`
	Bootstrappers       []string `toml:"bootstrappers"`
	BlocksPerEpoch      uint64   `toml:"blocks_per_epoch"`
	TargetBlockTimeSecs uint64   `toml:"target_block_time_secs"`
	InitialDifficulty   uint64   `toml:"initial_difficulty"`
	HybridConsensus     bool     `toml:"hybrid_consensus"`
	RunValidator        bool     `toml:"run_validator"`
}

func defaultNodeConfig() nodeConfig {
	_, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		panic(err)
	}
	return nodeConfig{
		DataDir:             "./modnode-data",
		Self:                "node-1",
		PrivateKeyHex:       hex.EncodeToString(priv),
		BlocksPerEpoch:      40,
		TargetBlockTimeSecs: 60,
		InitialDifficulty:   1000,
	}
}

func loadNodeConfig(path string) (nodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nodeConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg nodeConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nodeConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func writeNodeConfig(path string, cfg nodeConfig) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

func (c nodeConfig) peerID() common.PeerID {
	return common.PeerID(c.Self)
}

func (c nodeConfig) bootstrapperIDs() []common.PeerID {
	out := make([]common.PeerID, 0, len(c.Bootstrappers))
	for _, b := range c.Bootstrappers {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, common.PeerID(b))
		}
	}
	return out
}

func (c nodeConfig) privateKey() (ed25519.PrivateKey, error) {
	raw, err := hex.DecodeString(c.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private_key_hex: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private_key_hex must decode to %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

func (c nodeConfig) initialDifficulty() *uint256.Int {
	return uint256.NewInt(c.InitialDifficulty)
}
