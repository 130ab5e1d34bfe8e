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
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Dial 连接网络节点并绑定合约与签名账户
func Dial(ctx context.Context, n Network, opts ...Option) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, n.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %s", ErrUnavailable, n.Name, sanitizeMessage(err.Error()))
	}

	chainID := n.ChainID
	if chainID == nil {
		timeout := n.CallTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		chainID, err = ec.ChainID(callCtx)
		cancel()
		if err != nil {
			ec.Close()
			return nil, fmt.Errorf("%w: query chain id on %s: %s", ErrUnavailable, n.Name, sanitizeMessage(err.Error()))
		}
	}

	auth, err := bind.NewKeyedTransactorWithChainID(n.PrivateKey, chainID)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("%w: build transactor: %v", ErrMisconfigured, err)
	}

	c := NewClient(n, ec, NewBoundContract(n.ContractAddress, ec, auth), opts...)
	c.closer = ec.Close
	return c, nil
}
