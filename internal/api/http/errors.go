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

package http

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"dispatch-ledger/internal/challenge"
	"dispatch-ledger/internal/dispatch"
	"dispatch-ledger/internal/ledger"
	"dispatch-ledger/internal/report"
	pkgerrors "dispatch-ledger/pkg/errors"
)

// errorStatus 错误到 HTTP 状态码与错误码的映射
func errorStatus(err error) (int, string) {
	var ve *pkgerrors.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, pkgerrors.ErrInvalidArg):
		return consts.StatusBadRequest, "invalid_argument"
	case errors.Is(err, pkgerrors.ErrNotFound):
		return consts.StatusNotFound, "not_found"

	case errors.Is(err, challenge.ErrCodeMismatch):
		return consts.StatusUnauthorized, "code_mismatch"
	case errors.Is(err, challenge.ErrChallengeExpired):
		return consts.StatusGone, "challenge_expired"
	case errors.Is(err, challenge.ErrTooManyAttempts):
		return consts.StatusTooManyRequests, "too_many_attempts"
	case errors.Is(err, challenge.ErrResendTooSoon), errors.Is(err, challenge.ErrTooManySends),
		errors.Is(err, challenge.ErrRateLimited):
		return consts.StatusTooManyRequests, "rate_limited"

	case errors.Is(err, dispatch.ErrNotAssigned), errors.Is(err, dispatch.ErrSelfVerification),
		errors.Is(err, pkgerrors.ErrForbidden), errors.Is(err, challenge.ErrNotOwner):
		return consts.StatusForbidden, "forbidden"
	case errors.Is(err, dispatch.ErrInvalidTransition):
		return consts.StatusConflict, "invalid_transition"
	case errors.Is(err, dispatch.ErrActiveDispatch), errors.Is(err, dispatch.ErrAnchorNotRetryable),
		errors.Is(err, report.ErrNotPending), errors.Is(err, report.ErrNotDispatchable),
		errors.Is(err, pkgerrors.ErrConflict):
		return consts.StatusConflict, "conflict"
	case errors.Is(err, dispatch.ErrProofRequired):
		return consts.StatusUnprocessableEntity, "proof_required"

	case errors.Is(err, ledger.ErrMisconfigured), errors.Is(err, ledger.ErrUnauthorizedSigner),
		errors.Is(err, ledger.ErrInsufficientFunds):
		return consts.StatusUnprocessableEntity, "ledger_" + ledger.Kind(err)
	case errors.Is(err, ledger.ErrConfirmationTimeout):
		return consts.StatusGatewayTimeout, "ledger_" + ledger.Kind(err)
	case errors.Is(err, ledger.ErrUnavailable), errors.Is(err, ledger.ErrWriteFailed),
		errors.Is(err, ledger.ErrConfirmationIncomplete):
		return consts.StatusBadGateway, "ledger_" + ledger.Kind(err)
	}
	return consts.StatusInternalServerError, "internal"
}

// writeError 按错误类型写出 JSON 错误
func writeError(c context.Context, ctx *app.RequestContext, err error) {
	status, code := errorStatus(err)
	body := map[string]string{
		"error": err.Error(),
		"code":  code,
	}
	if status == consts.StatusInternalServerError {
		hlog.CtxErrorf(c, "%s %s failed: %v", ctx.Method(), ctx.Path(), err)
		body["error"] = "internal error"
	}
	var ve *pkgerrors.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	ctx.JSON(status, body)
}

func badRequest(ctx *app.RequestContext, msg string) {
	ctx.JSON(consts.StatusBadRequest, map[string]string{
		"error": msg,
		"code":  "invalid_argument",
	})
}
