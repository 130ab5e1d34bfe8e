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

package proof

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Algorithm 记录哈希算法，系统常量，不随配置变化
const Algorithm = "keccak256"

// Digest 32 字节摘要，文本形式为 0x 前缀的小写十六进制
type Digest [32]byte

// Keccak256 计算 data 的 Keccak-256 摘要
func Keccak256(data []byte) Digest {
	return Digest(crypto.Keccak256Hash(data))
}

// ParseDigest 解析 0x 前缀（可省略）的 64 位十六进制摘要
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 64 {
		return d, fmt.Errorf("digest must be 32 bytes, got %d hex chars", len(raw))
	}
	if _, err := hex.Decode(d[:], []byte(raw)); err != nil {
		return d, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	return d, nil
}

// Hex 0x 前缀十六进制
func (d Digest) Hex() string {
	return "0x" + hex.EncodeToString(d[:])
}

func (d Digest) String() string { return d.Hex() }

// IsZero 是否为全零摘要
func (d Digest) IsZero() bool { return d == Digest{} }

// MarshalText 实现 encoding.TextMarshaler
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.Hex()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
