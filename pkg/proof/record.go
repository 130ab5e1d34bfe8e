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
	"fmt"
	"sort"
	"time"

	"dispatch-ledger/pkg/canonical"
)

// RecordPayload 一次已核验派遣的最小可证明事实集合
type RecordPayload struct {
	DispatchID  string
	EmergencyID string
	VolunteerID string
	// CompletedAt 为 nil 或零值时规范形式为 null
	CompletedAt *time.Time
	ProofURLs   []string
}

// canonicalRecord 规范化前的形状：proofUrls 已排序，completedAt 已格式化
type canonicalRecord struct {
	DispatchID  string   `json:"dispatchId"`
	EmergencyID string   `json:"emergencyId"`
	VolunteerID string   `json:"volunteerId"`
	CompletedAt *string  `json:"completedAt"`
	ProofURLs   []string `json:"proofUrls"`
}

// Canonical 返回记录的规范值。proofUrls 排序后参与哈希，
// 因此证明附件的顺序不影响摘要。
func (p RecordPayload) Canonical() (canonical.Value, error) {
	urls := make([]string, len(p.ProofURLs))
	copy(urls, p.ProofURLs)
	sort.Strings(urls)

	rec := canonicalRecord{
		DispatchID:  p.DispatchID,
		EmergencyID: p.EmergencyID,
		VolunteerID: p.VolunteerID,
		ProofURLs:   urls,
	}
	if p.CompletedAt != nil && !p.CompletedAt.IsZero() {
		ts := p.CompletedAt.UTC().Format(canonical.ISOTime)
		rec.CompletedAt = &ts
	}
	return canonical.Canonicalize(rec)
}

// CanonicalBytes 规范 JSON 字节
func (p RecordPayload) CanonicalBytes() ([]byte, error) {
	v, err := p.Canonical()
	if err != nil {
		return nil, err
	}
	return v.Bytes(), nil
}

// RecordHash 计算记录摘要：Keccak-256(规范 JSON 的 UTF-8 字节)
func RecordHash(p RecordPayload) (Digest, error) {
	b, err := p.CanonicalBytes()
	if err != nil {
		return Digest{}, fmt.Errorf("canonicalize record payload: %w", err)
	}
	return Keccak256(b), nil
}

// IdentifierHash 标识符摘要：Keccak-256(标识符原始 UTF-8 字节)，不做 JSON 包装
func IdentifierHash(id string) Digest {
	return Keccak256([]byte(id))
}

// RecordHashes 一次账本写入所需的全部摘要
type RecordHashes struct {
	Record    Digest
	Dispatch  Digest
	Emergency Digest
	Volunteer Digest
}

// HashRecord 计算记录摘要与三个标识符摘要
func HashRecord(p RecordPayload) (RecordHashes, error) {
	rh, err := RecordHash(p)
	if err != nil {
		return RecordHashes{}, err
	}
	return RecordHashes{
		Record:    rh,
		Dispatch:  IdentifierHash(p.DispatchID),
		Emergency: IdentifierHash(p.EmergencyID),
		Volunteer: IdentifierHash(p.VolunteerID),
	}, nil
}
