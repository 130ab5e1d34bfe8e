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
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"dispatch-ledger/pkg/config"
	"dispatch-ledger/pkg/secrets"
)

// Network 启动时解析一次的账本网络配置
type Network struct {
	Name            string
	RPCURL          string
	ContractAddress common.Address
	PrivateKey      *ecdsa.PrivateKey
	Signer          common.Address
	// ChainID 为 nil 时连接后向节点查询
	ChainID        *big.Int
	CallTimeout    time.Duration
	ConfirmTimeout time.Duration
}

// ResolveNetwork 从配置（及可选的 secrets store）解析当前网络。
// 网络名、RPC 地址、合约地址或私钥缺失/非法时返回 ErrMisconfigured。
func ResolveNetwork(ctx context.Context, cfg config.LedgerConfig, store secrets.Store) (Network, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Network))
	if name == "" {
		return Network{}, fmt.Errorf("%w: ledger.network is not set", ErrMisconfigured)
	}
	nc, ok := cfg.Networks[name]
	if !ok {
		return Network{}, fmt.Errorf("%w: network %q is not configured", ErrMisconfigured, name)
	}
	if strings.TrimSpace(nc.RPCURL) == "" {
		return Network{}, fmt.Errorf("%w: rpc_url for network %q is not set", ErrMisconfigured, name)
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return Network{}, fmt.Errorf("%w: contract address %q is not a valid address", ErrMisconfigured, cfg.ContractAddress)
	}

	rawKey := nc.PrivateKey
	if nc.PrivateKeySecret != "" {
		if store == nil {
			return Network{}, fmt.Errorf("%w: private_key_secret set but no secrets store configured", ErrMisconfigured)
		}
		v, err := store.Get(ctx, nc.PrivateKeySecret)
		if err != nil {
			return Network{}, fmt.Errorf("%w: read signer key: %v", ErrMisconfigured, err)
		}
		rawKey = v
	}
	key, err := ParsePrivateKey(rawKey)
	if err != nil {
		return Network{}, fmt.Errorf("%w: %v", ErrMisconfigured, err)
	}

	n := Network{
		Name:            name,
		RPCURL:          nc.RPCURL,
		ContractAddress: common.HexToAddress(cfg.ContractAddress),
		PrivateKey:      key,
		Signer:          crypto.PubkeyToAddress(key.PublicKey),
		CallTimeout:     config.ParseDuration(cfg.CallTimeout, 15*time.Second),
		ConfirmTimeout:  config.ParseDuration(cfg.ConfirmTimeout, 2*time.Minute),
	}
	if nc.ChainID > 0 {
		n.ChainID = big.NewInt(nc.ChainID)
	}
	return n, nil
}

// ParsePrivateKey 解析 0x 前缀（可省略）的十六进制 secp256k1 私钥
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("signer private key is not set")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"))
	if err != nil {
		return nil, fmt.Errorf("signer private key is invalid")
	}
	return key, nil
}
