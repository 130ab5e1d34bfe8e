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
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"dispatch-ledger/pkg/signature"
)

// VerifyEvidenceZip 验证证据包 ZIP。pubKey 非空时要求 signature.txt 存在且有效。
func VerifyEvidenceZip(zipBytes []byte, pubKey ed25519.PublicKey) VerifyResult {
	result := VerifyResult{OK: true, Errors: []string{}}
	fail := func(format string, args ...any) {
		result.OK = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	// 1. 解压 ZIP
	zr, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	if err != nil {
		fail("failed to read zip: %v", err)
		return result
	}
	files := make(map[string][]byte, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			fail("failed to open %s: %v", f.Name, err)
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			fail("failed to read %s: %v", f.Name, err)
			continue
		}
		files[f.Name] = data
	}

	// 2. manifest 与文件哈希
	manifestData, ok := files[FileManifest]
	if !ok {
		fail("%s not found", FileManifest)
		return result
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		fail("failed to parse manifest: %v", err)
		return result
	}
	result.ManifestValid = true
	result.DispatchID = manifest.DispatchID
	for name, expected := range manifest.FileHashes {
		data, ok := files[name]
		if !ok {
			fail("file %s declared in manifest but not found in zip", name)
			continue
		}
		if actual := ComputeFileHash(data); actual != expected {
			fail("file hash mismatch for %s: expected %s, got %s", name, expected, actual)
		}
	}

	// 3. 签名
	if sig, ok := files[FileSignature]; ok && pubKey != nil {
		if signature.VerifyPackage(manifestData, strings.TrimSpace(string(sig)), pubKey) {
			result.SignatureValid = true
		} else {
			fail("manifest signature invalid")
		}
	} else if pubKey != nil {
		fail("%s not found", FileSignature)
	}

	// 4. 规范记录：重新计算摘要
	recordData, ok := files[FileRecord]
	if !ok {
		fail("%s not found", FileRecord)
		return result
	}
	recordHash := Keccak256(recordData).Hex()
	result.RecordHash = recordHash
	if manifest.HashAlgorithm != Algorithm {
		fail("unsupported hash algorithm %q", manifest.HashAlgorithm)
	} else if recordHash != manifest.RecordHash {
		fail("record hash mismatch: manifest %s, computed %s", manifest.RecordHash, recordHash)
	} else {
		result.RecordValid = true
	}

	// 5. 历史事件链
	events, err := parseEventsNDJSON(files[FileEvents])
	if err != nil {
		fail("failed to parse events: %v", err)
	} else {
		result.Events = events
		if err := ValidateChain(events); err != nil {
			fail("hash chain invalid: %v", err)
		} else {
			result.HashChainValid = true
		}
	}

	// 6. 锚定记录
	if anchorData, ok := files[FileAnchor]; ok {
		var anchor AnchorRecord
		if err := json.Unmarshal(anchorData, &anchor); err != nil {
			fail("failed to parse anchor: %v", err)
		} else {
			result.Anchor = &anchor
			if anchor.RecordHash != recordHash {
				fail("anchor record_hash mismatch: expected %s, got %s", recordHash, anchor.RecordHash)
			}
		}
	} else if manifest.Anchored {
		fail("manifest marks bundle anchored but %s is missing", FileAnchor)
	}

	// 7. 摘要
	if proofData, ok := files[FileProof]; ok {
		var summary Summary
		if err := json.Unmarshal(proofData, &summary); err != nil {
			fail("failed to parse proof: %v", err)
		} else {
			if summary.RecordHash != recordHash {
				fail("proof record_hash mismatch: expected %s, got %s", recordHash, summary.RecordHash)
			}
			if len(events) > 0 && summary.RootHash != events[len(events)-1].Hash {
				fail("proof root_hash mismatch: expected %s, got %s", events[len(events)-1].Hash, summary.RootHash)
			}
		}
	}

	return result
}

// parseEventsNDJSON 解析 NDJSON 格式的事件流
func parseEventsNDJSON(data []byte) ([]Event, error) {
	var events []Event
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			return nil, fmt.Errorf("failed to parse event line %d: %w", i+1, err)
		}
		events = append(events, event)
	}
	return events, nil
}
