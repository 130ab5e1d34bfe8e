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

package redaction

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Masked 脱敏后的占位值
const Masked = "***REDACTED***"

// Redactor 对审计记录中的 JSON 请求体按策略脱敏
type Redactor struct {
	policy *Policy
}

// New 创建脱敏器；policy 为 nil 时原样返回请求体
func New(policy *Policy) *Redactor {
	return &Redactor{policy: policy}
}

// Redact 对 action 对应的请求体应用脱敏规则。空请求体返回 nil，非 JSON 对象返回错误。
func (r *Redactor) Redact(action string, body []byte) ([]byte, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if r == nil || r.policy == nil {
		return body, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("redaction: request body is not a JSON object: %w", err)
	}

	for _, rule := range r.policy.rulesFor(action) {
		r.apply(obj, rule)
	}
	return json.Marshal(obj)
}

func (r *Redactor) apply(obj map[string]interface{}, rule Rule) {
	// "location.latitude" -> ["location", "latitude"]
	parts := strings.Split(rule.Path, ".")
	current := obj
	for _, p := range parts[:len(parts)-1] {
		next, ok := current[p].(map[string]interface{})
		if !ok {
			return
		}
		current = next
	}

	key := parts[len(parts)-1]
	value, ok := current[key]
	if !ok {
		return
	}
	switch rule.Mode {
	case ModeMask:
		current[key] = Masked
	case ModeHash:
		current[key] = r.hash(fmt.Sprint(value))
	case ModeDrop:
		delete(current, key)
	}
}

// hash 加盐 SHA-256，同一值在同一部署内可关联而不可还原
func (r *Redactor) hash(value string) string {
	h := sha256.New()
	h.Write([]byte(r.policy.Salt))
	h.Write([]byte(value))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
