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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ComputeEventHash 计算派遣历史事件的哈希
// Hash = SHA256(DispatchID|Type|ActorID|Payload|Timestamp|PrevHash)
func ComputeEventHash(e Event) string {
	h := sha256.New()
	for _, part := range []string{
		e.DispatchID,
		e.Type,
		e.ActorID,
		e.Payload,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	} {
		h.Write([]byte(part))
		h.Write([]byte("|"))
	}
	h.Write([]byte(e.PrevHash))
	return hex.EncodeToString(h.Sum(nil))
}

// ChainEvent 为 e 填充 PrevHash 与 Hash，prev 为链上一个事件的哈希（首个事件为空）
func ChainEvent(e Event, prev string) Event {
	e.PrevHash = prev
	e.Hash = ComputeEventHash(e)
	return e
}

// ValidateChain 验证完整哈希链
func ValidateChain(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if events[0].PrevHash != "" {
		return fmt.Errorf("first event prev_hash should be empty, got: %s", events[0].PrevHash)
	}
	for i, e := range events {
		if i > 0 && e.PrevHash != events[i-1].Hash {
			return fmt.Errorf("hash chain broken at event %d: prev_hash=%s, expected=%s",
				i, e.PrevHash, events[i-1].Hash)
		}
		if expected := ComputeEventHash(e); expected != e.Hash {
			return fmt.Errorf("event %d hash mismatch: expected %s, got %s", i, expected, e.Hash)
		}
	}
	return nil
}

// ComputeFileHash 计算文件内容的 SHA256 哈希
func ComputeFileHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
