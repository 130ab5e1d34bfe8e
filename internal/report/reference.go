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

package report

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

// MaxReferenceAttempts 参考号冲突时的最大重试次数
const MaxReferenceAttempts = 5

const referenceChunkSize = 6

var referencePattern = regexp.MustCompile(`^EM-\d{4}-[A-Z0-9]{6}$`)

// NewReferenceNumber 生成 EM-<UTC 年份>-<6 位 base36 大写> 形式的参考号候选
func NewReferenceNumber(at time.Time) (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	chunk := strings.ToUpper(new(big.Int).SetBytes(buf).Text(36))
	if len(chunk) < referenceChunkSize {
		chunk = strings.Repeat("0", referenceChunkSize-len(chunk)) + chunk
	}
	return fmt.Sprintf("EM-%d-%s", at.UTC().Year(), chunk[len(chunk)-referenceChunkSize:]), nil
}

// ValidReferenceNumber 校验参考号格式（忽略大小写与首尾空白）
func ValidReferenceNumber(ref string) bool {
	return referencePattern.MatchString(strings.ToUpper(strings.TrimSpace(ref)))
}
