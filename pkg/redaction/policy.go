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

// Package redaction 审计请求体的字段级脱敏：验证码丢弃，邮箱加盐哈希，报告位置与描述遮盖。
package redaction

// Mode 脱敏方式
type Mode string

const (
	ModeMask Mode = "mask" // 替换为 Masked
	ModeHash Mode = "hash" // 替换为加盐 SHA-256
	ModeDrop Mode = "drop" // 移除字段
)

// Rule 单个字段的脱敏规则；Path 以 "." 分隔嵌套字段
type Rule struct {
	Path string
	Mode Mode
}

// Policy 脱敏策略：Global 对所有动作生效，Actions 按审计动作追加
type Policy struct {
	Global  []Rule
	Actions map[string][]Rule
	Salt    string
}

func (p *Policy) rulesFor(action string) []Rule {
	rules := make([]Rule, 0, len(p.Global)+len(p.Actions[action]))
	rules = append(rules, p.Global...)
	return append(rules, p.Actions[action]...)
}

// DefaultPolicy 审计默认策略
func DefaultPolicy(salt string) *Policy {
	return &Policy{
		Salt: salt,
		Global: []Rule{
			{Path: "code", Mode: ModeDrop},
			{Path: "password", Mode: ModeDrop},
			{Path: "email", Mode: ModeHash},
		},
		Actions: map[string][]Rule{
			"create_report": {
				{Path: "description", Mode: ModeMask},
				{Path: "location.latitude", Mode: ModeMask},
				{Path: "location.longitude", Mode: ModeMask},
				{Path: "photos", Mode: ModeDrop},
			},
		},
	}
}
