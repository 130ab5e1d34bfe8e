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
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ExportEvidenceZip 导出派遣证据包为 ZIP：规范记录、历史事件链、锚定记录、摘要与清单
func ExportEvidenceZip(ctx context.Context, in BundleInput, src EventSource, opts ExportOptions) ([]byte, error) {
	dispatchID := in.Payload.DispatchID
	if dispatchID == "" {
		return nil, fmt.Errorf("dispatch_id is required")
	}

	// 1. 规范记录与摘要
	recordJSON, err := in.Payload.CanonicalBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize record: %w", err)
	}
	recordHash := Keccak256(recordJSON).Hex()
	if in.Anchor != nil && in.Anchor.RecordHash != recordHash {
		return nil, fmt.Errorf("anchor record_hash %s does not match record %s", in.Anchor.RecordHash, recordHash)
	}

	// 2. 历史事件链
	var events []Event
	if src != nil {
		events, err = src.ListEvents(ctx, dispatchID)
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
	}
	if err := ValidateChain(events); err != nil {
		return nil, fmt.Errorf("hash chain validation failed: %w", err)
	}
	eventsNDJSON, err := eventsToNDJSON(events)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize events: %w", err)
	}

	files := map[string][]byte{
		FileRecord: recordJSON,
		FileEvents: eventsNDJSON,
	}

	summary := Summary{
		DispatchID:     dispatchID,
		RecordHash:     recordHash,
		ChainValidated: true,
		GeneratedBy:    opts.GeneratedBy,
	}
	if len(events) > 0 {
		summary.RootHash = events[len(events)-1].Hash
	}
	if in.Anchor != nil {
		anchorJSON, err := json.MarshalIndent(in.Anchor, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to serialize anchor: %w", err)
		}
		files[FileAnchor] = anchorJSON
		summary.Anchored = true
		summary.TxHash = in.Anchor.TxHash
	}
	proofJSON, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize proof: %w", err)
	}
	files[FileProof] = proofJSON

	// 3. 清单
	manifest := Manifest{
		Version:       BundleVersion,
		DispatchID:    dispatchID,
		ExportedAt:    time.Now().UTC(),
		HashAlgorithm: Algorithm,
		RecordHash:    recordHash,
		EventCount:    len(events),
		Anchored:      in.Anchor != nil,
		FileHashes:    make(map[string]string, len(files)),
	}
	if len(events) > 0 {
		manifest.FirstEventHash = events[0].Hash
		manifest.LastEventHash = events[len(events)-1].Hash
	}
	for name, content := range files {
		manifest.FileHashes[name] = ComputeFileHash(content)
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize manifest: %w", err)
	}
	files[FileManifest] = manifestJSON

	if opts.Signer != nil {
		sig, err := opts.Signer.SignPackage(ctx, manifestJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to sign manifest: %w", err)
		}
		files[FileSignature] = []byte(sig)
	}

	// 4. 打包为 ZIP（按文件名排序，输出稳定）
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for _, name := range names {
		fw, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("failed to create zip file %s: %w", name, err)
		}
		if _, err := fw.Write(files[name]); err != nil {
			return nil, fmt.Errorf("failed to write zip file %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// eventsToNDJSON 将事件列表转换为 NDJSON 格式
func eventsToNDJSON(events []Event) ([]byte, error) {
	buf := new(bytes.Buffer)
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
