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
	"context"
	"time"
)

// BundleVersion 证据包格式版本
const BundleVersion = "1.0"

// Bundle 文件名
const (
	FileManifest  = "manifest.json"
	FileRecord    = "record.json"
	FileEvents    = "events.ndjson"
	FileAnchor    = "anchor.json"
	FileProof     = "proof.json"
	FileSignature = "signature.txt"
)

// Manifest 证据包清单
type Manifest struct {
	Version        string            `json:"version"`
	DispatchID     string            `json:"dispatch_id"`
	ExportedAt     time.Time         `json:"exported_at"`
	HashAlgorithm  string            `json:"hash_algorithm"`
	RecordHash     string            `json:"record_hash"`
	EventCount     int               `json:"event_count"`
	FirstEventHash string            `json:"first_event_hash,omitempty"`
	LastEventHash  string            `json:"last_event_hash,omitempty"`
	Anchored       bool              `json:"anchored"`
	FileHashes     map[string]string `json:"file_hashes"` // filename -> SHA256
}

// Summary 证明摘要（proof.json）
type Summary struct {
	DispatchID     string `json:"dispatch_id"`
	RecordHash     string `json:"record_hash"`
	RootHash       string `json:"root_hash,omitempty"` // == LastEventHash
	ChainValidated bool   `json:"chain_validated"`
	Anchored       bool   `json:"anchored"`
	TxHash         string `json:"tx_hash,omitempty"`
	GeneratedBy    string `json:"generated_by"`
}

// Event 派遣历史事件，按哈希链串联
type Event struct {
	ID         string    `json:"id"`
	DispatchID string    `json:"dispatch_id"`
	Type       string    `json:"type"`
	ActorID    string    `json:"actor_id,omitempty"`
	Payload    string    `json:"payload"` // JSON string
	CreatedAt  time.Time `json:"created_at"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// AnchorRecord 账本锚定记录（anchor.json）
type AnchorRecord struct {
	Network         string    `json:"network"`
	ContractAddress string    `json:"contract_address"`
	TxHash          string    `json:"tx_hash"`
	BlockNumber     *uint64   `json:"block_number"`
	RecordHash      string    `json:"record_hash"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// BundleInput 导出输入
type BundleInput struct {
	Payload RecordPayload
	// Anchor 为 nil 表示尚未锚定
	Anchor *AnchorRecord
}

// ExportOptions 导出选项
type ExportOptions struct {
	GeneratedBy string
	// Signer 非空时对 manifest.json 签名并写入 signature.txt
	Signer PackageSigner
}

// PackageSigner 证据包签名器（pkg/signature.Signer 实现该接口）
type PackageSigner interface {
	SignPackage(ctx context.Context, data []byte) (string, error)
}

// EventSource 派遣历史读取接口（用于导出）
type EventSource interface {
	ListEvents(ctx context.Context, dispatchID string) ([]Event, error)
}

// VerifyResult 验证结果
type VerifyResult struct {
	OK             bool
	Errors         []string
	DispatchID     string
	RecordHash     string
	Events         []Event
	Anchor         *AnchorRecord
	ManifestValid  bool
	RecordValid    bool
	HashChainValid bool
	SignatureValid bool
}
