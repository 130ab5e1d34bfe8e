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

package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	pkgerrors "dispatch-ledger/pkg/errors"
)

var (
	// ErrInvalidTransition 当前状态不允许该迁移
	ErrInvalidTransition = errors.New("invalid dispatch transition")
	// ErrNotAssigned 调用方不是该派遣的志愿者
	ErrNotAssigned = errors.New("dispatch is not assigned to this volunteer")
	// ErrSelfVerification 审核人不能核验自己的派遣
	ErrSelfVerification = errors.New("reviewer cannot verify their own dispatch")
	// ErrActiveDispatch 志愿者已有进行中的派遣
	ErrActiveDispatch = errors.New("volunteer already has an accepted dispatch")
	// ErrProofRequired 完成前至少需要一份证明
	ErrProofRequired = errors.New("at least one proof is required to complete a dispatch")
	// ErrAnchorNotRetryable 锚定注记不处于可重试状态
	ErrAnchorNotRetryable = errors.New("dispatch anchor is not retryable")
)

const (
	MinReasonLength = 3
	MaxReasonLength = 300
)

// ValidationError 输入校验失败，在触达存储前返回
type ValidationError = pkgerrors.ValidationError

// TransitionError 描述被拒绝的迁移
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid dispatch transition %s -> %s", e.From, e.To)
}

// Is 使 errors.Is(err, ErrInvalidTransition) 成立
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// transitions 允许的迁移表
var transitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusDeclined, StatusCancelled},
	StatusAccepted: {StatusDone, StatusCancelled},
	StatusDone:     {StatusVerified, StatusCancelled},
}

// CanTransition 是否允许 from -> to
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal 终态不再迁移
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// ValidStatus 是否为已知状态
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusDone, StatusVerified, StatusCancelled:
		return true
	}
	return false
}

func checkTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// ValidateReason 去除首尾空白后长度须在 [MinReasonLength, MaxReasonLength]
func ValidateReason(reason string) (string, error) {
	r := strings.TrimSpace(reason)
	n := utf8.RuneCountInString(r)
	if n < MinReasonLength {
		return "", &ValidationError{Field: "reason", Message: fmt.Sprintf("must be at least %d characters", MinReasonLength)}
	}
	if n > MaxReasonLength {
		return "", &ValidationError{Field: "reason", Message: fmt.Sprintf("must be at most %d characters", MaxReasonLength)}
	}
	return r, nil
}
