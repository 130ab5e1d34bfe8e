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

package canonical

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ISOTime 时间值的规范格式（UTC，毫秒精度），与 Date.prototype.toISOString 一致
const ISOTime = "2006-01-02T15:04:05.000Z"

const maxDepth = 512

type undefined struct{}

// Undefined 表示“缺失”的值：对象中被省略，数组中输出为 null
var Undefined any = undefined{}

var (
	valueType         = reflect.TypeOf(Value{})
	timeType          = reflect.TypeOf(time.Time{})
	bigIntType        = reflect.TypeOf(big.Int{})
	rawMessageType    = reflect.TypeOf(json.RawMessage(nil))
	numberType        = reflect.TypeOf(json.Number(""))
	undefinedType     = reflect.TypeOf(undefined{})
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Canonicalize 将 v 转换为规范值。
//
// 支持 nil、bool、整数、浮点、字符串、time.Time、*big.Int、json.Number、
// json.RawMessage、encoding.TextMarshaler、slice/array、字符串或整数键的 map
// 以及带 json 标签的 struct。函数与 Undefined 视为缺失。
func Canonicalize(v any) (Value, error) {
	w := &walker{}
	cv, ok, err := w.walk(reflect.ValueOf(v))
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, fmt.Errorf("%w: top-level value is absent", ErrUnsupportedValue)
	}
	return cv, nil
}

type walker struct {
	path  []string
	depth int
}

func (w *walker) fail(base error, format string, args ...any) error {
	return fmt.Errorf("%w at %s: %s", base, joinPath(w.path), fmt.Sprintf(format, args...))
}

func (w *walker) push(seg string) { w.path = append(w.path, seg) }
func (w *walker) pop() { w.path = w.path[:len(w.path)-1] }

// walk 返回 (值, 是否存在, 错误)
func (w *walker) walk(rv reflect.Value) (Value, bool, error) {
	if !rv.IsValid() {
		return Null(), true, nil
	}
	w.depth++
	defer func() { w.depth-- }()
	if w.depth > maxDepth {
		return Value{}, false, w.fail(ErrUnsupportedValue, "nesting exceeds %d levels (cyclic value?)", maxDepth)
	}

	switch rv.Type() {
	case valueType:
		return rv.Interface().(Value), true, nil
	case undefinedType:
		return Value{}, false, nil
	case timeType:
		t := rv.Interface().(time.Time)
		return StringValue(t.UTC().Format(ISOTime)), true, nil
	case bigIntType:
		b := rv.Interface().(big.Int)
		return StringValue(b.String()), true, nil
	case numberType:
		return w.jsonNumber(rv.Interface().(json.Number))
	case rawMessageType:
		return w.rawMessage(rv.Interface().(json.RawMessage))
	}

	if k := rv.Kind(); k != reflect.Pointer && k != reflect.Interface && rv.Type().Implements(textMarshalerType) {
		return w.text(rv)
	}

	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return Null(), true, nil
		}
		return w.walk(rv.Elem())
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), true, nil
		}
		if rv.Type().Elem() == bigIntType {
			return StringValue(rv.Interface().(*big.Int).String()), true, nil
		}
		if rv.Type().Implements(textMarshalerType) && !rv.Type().Elem().Implements(textMarshalerType) {
			return w.text(rv)
		}
		return w.walk(rv.Elem())
	case reflect.Bool:
		return BoolValue(rv.Bool()), true, nil
	case reflect.String:
		return StringValue(rv.String()), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		f := float64(i)
		if f >= 1<<63 || int64(f) != i {
			return Value{}, false, w.fail(ErrInvalidNumber, "integer %d is not exact in float64", i)
		}
		return Value{kind: KindNumber, n: f}, true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		f := float64(u)
		if f >= 1<<64 || uint64(f) != u {
			return Value{}, false, w.fail(ErrInvalidNumber, "integer %d is not exact in float64", u)
		}
		return Value{kind: KindNumber, n: f}, true, nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, false, w.fail(ErrInvalidNumber, "%v is not finite", f)
		}
		nv, _ := NumberValue(f)
		return nv, true, nil
	case reflect.Func:
		return Value{}, false, nil
	case reflect.Slice:
		if rv.IsNil() {
			return Null(), true, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return StringValue(base64.StdEncoding.EncodeToString(rv.Bytes())), true, nil
		}
		return w.array(rv)
	case reflect.Array:
		return w.array(rv)
	case reflect.Map:
		if rv.IsNil() {
			return Null(), true, nil
		}
		return w.object(rv)
	case reflect.Struct:
		return w.structValue(rv)
	default:
		// Chan, Complex64, Complex128, UnsafePointer
		return Value{}, false, w.fail(ErrUnsupportedValue, "kind %s", rv.Kind())
	}
}

func (w *walker) text(rv reflect.Value) (Value, bool, error) {
	b, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
	if err != nil {
		return Value{}, false, w.fail(ErrUnsupportedValue, "MarshalText: %v", err)
	}
	return StringValue(string(b)), true, nil
}

// jsonNumber 整数字面量与 Go 整数同一规则：必须能被 float64 精确表示，否则拒绝而非静默舍入
func (w *walker) jsonNumber(n json.Number) (Value, bool, error) {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		bi, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return Value{}, false, w.fail(ErrInvalidNumber, "%q", s)
		}
		f, acc := new(big.Float).SetInt(bi).Float64()
		if acc != big.Exact {
			return Value{}, false, w.fail(ErrInvalidNumber, "integer %s is not exact in float64", s)
		}
		nv, _ := NumberValue(f)
		return nv, true, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, false, w.fail(ErrInvalidNumber, "%q", string(n))
	}
	if math.IsInf(f, 0) {
		return Value{}, false, w.fail(ErrInvalidNumber, "%q overflows float64", string(n))
	}
	nv, _ := NumberValue(f)
	return nv, true, nil
}

func (w *walker) rawMessage(raw json.RawMessage) (Value, bool, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Value{}, false, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return Value{}, false, w.fail(ErrUnsupportedValue, "raw message: %v", err)
	}
	return w.walk(reflect.ValueOf(decoded))
}

func (w *walker) array(rv reflect.Value) (Value, bool, error) {
	n := rv.Len()
	items := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		w.push("[" + strconv.Itoa(i) + "]")
		item, ok, err := w.walk(rv.Index(i))
		w.pop()
		if err != nil {
			return Value{}, false, err
		}
		if !ok {
			item = Null()
		}
		items = append(items, item)
	}
	return ArrayValue(items...), true, nil
}

func (w *walker) object(rv reflect.Value) (Value, bool, error) {
	members := make([]Member, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, err := w.mapKey(iter.Key())
		if err != nil {
			return Value{}, false, err
		}
		w.push("." + key)
		val, ok, err := w.walk(iter.Value())
		w.pop()
		if err != nil {
			return Value{}, false, err
		}
		if ok {
			members = append(members, Member{Key: key, Value: val})
		}
	}
	return ObjectValue(members...), true, nil
}

func (w *walker) mapKey(k reflect.Value) (string, error) {
	switch k.Kind() {
	case reflect.String:
		return k.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), nil
	}
	return "", w.fail(ErrUnsupportedValue, "map key of kind %s", k.Kind())
}

func (w *walker) structValue(rv reflect.Value) (Value, bool, error) {
	members := make([]Member, 0, rv.NumField())
	if err := w.collectFields(rv, &members); err != nil {
		return Value{}, false, err
	}
	return ObjectValue(members...), true, nil
}

func (w *walker) collectFields(rv reflect.Value, members *[]Member) error {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, omitEmpty, skip := parseTag(f)
		if skip {
			continue
		}
		fv := rv.Field(i)
		// 未打标签的匿名 struct 字段展开到外层
		if f.Anonymous && f.Tag.Get("json") == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct {
				if err := w.collectFields(inner, members); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if omitEmpty && isEmptyValue(fv) {
			continue
		}
		w.push("." + name)
		val, ok, err := w.walk(fv)
		w.pop()
		if err != nil {
			return err
		}
		if ok {
			*members = append(*members, Member{Key: name, Value: val})
		}
	}
	return nil
}

func parseTag(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	for _, o := range strings.Split(opts, ",") {
		if o == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}
