// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-ledger/pkg/config"
	"dispatch-ledger/pkg/secrets"
)

func ledgerConfig() config.LedgerConfig {
	return config.LedgerConfig{
		Network:         "Ganache",
		ContractAddress: testContract.Hex(),
		CallTimeout:     "3s",
		Networks: map[string]config.LedgerNetworkConfig{
			"ganache": {RPCURL: "http://127.0.0.1:8545", PrivateKey: "0x" + testKeyHex, ChainID: 1337},
			"sepolia": {RPCURL: "https://rpc.sepolia.example", PrivateKeySecret: "ledger/sepolia"},
		},
	}
}

func TestResolveNetwork(t *testing.T) {
	n, err := ResolveNetwork(context.Background(), ledgerConfig(), nil)
	require.NoError(t, err)

	key, _ := crypto.HexToECDSA(testKeyHex)
	assert.Equal(t, "ganache", n.Name)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), n.Signer)
	assert.Equal(t, testContract, n.ContractAddress)
	assert.Equal(t, int64(1337), n.ChainID.Int64())
	assert.Equal(t, 3*time.Second, n.CallTimeout)
	assert.Equal(t, 2*time.Minute, n.ConfirmTimeout)
}

func TestResolveNetwork_KeyFromSecrets(t *testing.T) {
	ctx := context.Background()
	store := secrets.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "ledger/sepolia", testKeyHex))

	cfg := ledgerConfig()
	cfg.Network = "sepolia"
	n, err := ResolveNetwork(ctx, cfg, store)
	require.NoError(t, err)
	assert.Equal(t, "sepolia", n.Name)
	assert.Nil(t, n.ChainID)
}

func TestResolveNetwork_Misconfigured(t *testing.T) {
	tests := map[string]func(*config.LedgerConfig){
		"no network":      func(c *config.LedgerConfig) { c.Network = "" },
		"unknown network": func(c *config.LedgerConfig) { c.Network = "mainnet" },
		"bad address":     func(c *config.LedgerConfig) { c.ContractAddress = "0x123" },
		"missing rpc":     func(c *config.LedgerConfig) { c.Networks["ganache"] = config.LedgerNetworkConfig{PrivateKey: testKeyHex} },
		"bad key":         func(c *config.LedgerConfig) { c.Networks["ganache"] = config.LedgerNetworkConfig{RPCURL: "x", PrivateKey: "zz"} },
		"secret no store": func(c *config.LedgerConfig) { c.Network = "sepolia" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := ledgerConfig()
			mutate(&cfg)
			_, err := ResolveNetwork(context.Background(), cfg, nil)
			require.ErrorIs(t, err, ErrMisconfigured)
			assert.NotContains(t, err.Error(), testKeyHex)
		})
	}
}
