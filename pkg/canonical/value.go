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

// Package canonical 将任意 Go 值转换为确定性的 JSON 表示。
//
// 对象键按码点升序排列，数字按 ECMAScript Number-to-String 规则输出，
// 字符串转义与 JSON.stringify 一致。结构相同、仅键插入顺序不同的输入
// 产生逐字节相同的输出，因此可以直接作为内容哈希的输入。
package canonical

import (
	"errors"
	"math"
	"sort"
	"strings"
)

var (
	// ErrInvalidNumber 非有限数字（NaN、±Inf）或无法精确表示的整数
	ErrInvalidNumber = errors.New("canonical: invalid number")
	// ErrUnsupportedValue 无法规范化的值（channel、complex、非字符串键 map 等）
	ErrUnsupportedValue = errors.New("canonical: unsupported value")
)

// Kind 规范值的类型标签
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindString
	KindNumber
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Member 对象成员
type Member struct {
	Key   string
	Value Value
}

// Value 规范化后的 JSON 值（带标签的联合体）。零值为 null。
// 对象成员始终按键排序且键唯一，数字始终有限。
type Value struct {
	kind Kind
	b    bool
	s    string
	n    float64
	arr  []Value
	obj  []Member
}

// Null 返回 null
func Null() Value { return Value{} }

// BoolValue 布尔值
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// StringValue 字符串值
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// NumberValue 数字值；NaN 与 ±Inf 返回 ErrInvalidNumber
func NumberValue(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, ErrInvalidNumber
	}
	if f == 0 {
		f = 0 // -0 与 0 输出一致
	}
	return Value{kind: KindNumber, n: f}, nil
}

// ArrayValue 数组值
func ArrayValue(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// ObjectValue 对象值；成员按键排序，重复键保留最后一个
func ObjectValue(members ...Member) Value {
	dedup := make(map[string]int, len(members))
	out := make([]Member, 0, len(members))
	for _, m := range members {
		if i, ok := dedup[m.Key]; ok {
			out[i].Value = m.Value
			continue
		}
		dedup[m.Key] = len(out)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return Value{kind: KindObject, obj: out}
}

// Kind 返回类型标签
func (v Value) Kind() Kind { return v.kind }

// AsBool 布尔值；非 bool 返回 false
func (v Value) AsBool() bool { return v.kind == KindBool && v.b }

// AsString 字符串值；非 string 返回空串
func (v Value) AsString() string {
	if v.kind != KindString {
		return ""
	}
	return v.s
}

// AsNumber 数字值；非 number 返回 0
func (v Value) AsNumber() float64 {
	if v.kind != KindNumber {
		return 0
	}
	return v.n
}

// Items 数组元素
func (v Value) Items() []Value { return v.arr }

// Members 对象成员（已排序）
func (v Value) Members() []Member { return v.obj }

// Get 按键查找对象成员
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	i := sort.Search(len(v.obj), func(i int) bool { return v.obj[i].Key >= key })
	if i < len(v.obj) && v.obj[i].Key == key {
		return v.obj[i].Value, true
	}
	return Value{}, false
}

// Bytes 规范 JSON 文本
func (v Value) Bytes() []byte {
	return v.AppendTo(nil)
}

// String 规范 JSON 文本
func (v Value) String() string {
	return string(v.Bytes())
}

// MarshalJSON 实现 json.Marshaler，输出即规范文本
func (v Value) MarshalJSON() ([]byte, error) {
	return v.Bytes(), nil
}

// Equal 比较两个规范值的文本是否一致
func (v Value) Equal(o Value) bool {
	return v.String() == o.String()
}

// Bytes 规范化 v 并返回其规范 JSON 文本
func Bytes(v any) ([]byte, error) {
	cv, err := Canonicalize(v)
	if err != nil {
		return nil, err
	}
	return cv.Bytes(), nil
}

// MustBytes 同 Bytes，出错时 panic；仅用于常量输入
func MustBytes(v any) []byte {
	b, err := Bytes(v)
	if err != nil {
		panic(err)
	}
	return b
}

func joinPath(path []string) string {
	if len(path) == 0 {
		return "$"
	}
	return "$" + strings.Join(path, "")
}
