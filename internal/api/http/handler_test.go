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
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"dispatch-ledger/internal/api/http/middleware"
	"dispatch-ledger/internal/challenge"
	"dispatch-ledger/internal/dispatch"
	"dispatch-ledger/internal/ledger"
	"dispatch-ledger/internal/report"
	"dispatch-ledger/internal/storage/cache"
	"dispatch-ledger/pkg/auth"
	"dispatch-ledger/pkg/metrics"
	"dispatch-ledger/pkg/proof"
)

// stubRecorder 账本写入替身，每个记录摘要只写一次
type stubRecorder struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (r *stubRecorder) RecordVerifiedEvent(ctx context.Context, payload proof.RecordPayload) (ledger.Result, error) {
	digest, err := proof.RecordHash(payload)
	if err != nil {
		return ledger.Result{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	block := uint64(7)
	rec := ledger.Record{
		Network:         "ganache",
		ContractAddress: "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		TxHash:          "0xfeed",
		BlockNumber:     &block,
		RecordHash:      digest.Hex(),
		RecordedAt:      time.Now().UTC(),
	}
	if r.seen[digest.Hex()] {
		return ledger.Result{Outcome: ledger.OutcomeAlreadyRecorded, Record: rec}, nil
	}
	r.seen[digest.Hex()] = true
	return ledger.Result{Outcome: ledger.OutcomeWritten, Record: rec}, nil
}

// codeBox 记录投递的验证码
type codeBox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeBox) Deliver(_ context.Context, _, code, challengeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.codes == nil {
		b.codes = make(map[string]string)
	}
	b.codes[challengeID] = code
	return nil
}

func (b *codeBox) code(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[id]
}

type testServer struct {
	h          *server.Hertz
	handler    *Handler
	reports    *report.Service
	challenges *challenge.Service
	box        *codeBox
}

func newTestServer(t *testing.T, withJWT bool) *testServer {
	t.Helper()
	reports := report.NewService(report.NewMemoryStore())
	workflow := dispatch.NewWorkflow(dispatch.NewMemoryStore(), &stubRecorder{}, dispatch.Config{},
		dispatch.WithEmergencies(reports))
	handler := NewHandler(workflow, reports)

	store := cache.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	box := &codeBox{}
	challenges := challenge.NewService(store, box, challenge.Config{}, challenge.WithBcryptCost(bcrypt.MinCost))

	router := NewRouter(handler, middleware.NewMiddleware(nil))
	if withJWT {
		jwtAuth, err := middleware.NewJWTAuth([]byte("test-secret"), time.Hour, time.Hour)
		require.NoError(t, err)
		router.SetJWT(jwtAuth)
		handler.SetStepUp(challenges, jwtAuth, 10*time.Minute)
	} else {
		handler.SetStepUp(challenges, nil, 10*time.Minute)
	}
	router.EnableMetrics()
	h := router.Build(":0")
	return &testServer{h: h, handler: handler, reports: reports, challenges: challenges, box: box}
}

func as(userID string, role auth.Role, stepUp bool) []ut.Header {
	headers := []ut.Header{
		{Key: "X-User-ID", Value: userID},
		{Key: "X-User-Role", Value: string(role)},
		{Key: "X-User-Email", Value: userID + "@example.com"},
		{Key: "Content-Type", Value: "application/json"},
	}
	if stepUp {
		headers = append(headers, ut.Header{Key: "X-Step-Up", Value: "true"})
	}
	return headers
}

func bearer(token string) []ut.Header {
	return []ut.Header{
		{Key: "Authorization", Value: "Bearer " + token},
		{Key: "Content-Type", Value: "application/json"},
	}
}

func jsonBody(t *testing.T, v interface{}) *ut.Body {
	t.Helper()
	if v == nil {
		return &ut.Body{Body: bytes.NewReader(nil), Len: 0}
	}
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return &ut.Body{Body: bytes.NewReader(b), Len: len(b)}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers []ut.Header) (int, []byte) {
	t.Helper()
	w := ut.PerformRequest(s.h.Engine, method, path, jsonBody(t, body), headers...)
	resp := w.Result()
	return resp.StatusCode(), resp.Body()
}

func decode(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v), string(data))
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, false)
	code, body := s.do(t, "GET", "/api/health", nil, nil)
	assert.Equal(t, 200, code)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, false)
	metrics.StepUpIssuedTotal.Inc()
	code, body := s.do(t, "GET", "/metrics", nil, nil)
	assert.Equal(t, 200, code)
	assert.Contains(t, string(body), "dispatchledger_stepup_issued_total")
}

func TestDispatchLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, false)

	code, body := s.do(t, "POST", "/api/reports", map[string]interface{}{
		"type":     "flood",
		"location": map[string]interface{}{"latitude": 16.04, "longitude": 120.33, "label": "Riverside"},
	}, as("res-1", auth.RoleResident, false))
	require.Equal(t, 201, code, string(body))
	var r report.Report
	decode(t, body, &r)
	assert.Equal(t, report.ApprovalPending, r.Approval.Status)
	assert.False(t, r.VisibleOnMap)

	code, body = s.do(t, "PATCH", "/api/reports/"+r.ID+"/approve", nil, as("lgu-1", auth.RoleLGU, false))
	require.Equal(t, 200, code, string(body))

	code, body = s.do(t, "POST", "/api/dispatches", map[string]interface{}{
		"emergencyId":  r.ID,
		"volunteerIds": []string{"vol-1", "vol-1"},
	}, as("lgu-1", auth.RoleLGU, false))
	require.Equal(t, 201, code, string(body))
	var created struct {
		Dispatches []dispatch.Dispatch `json:"dispatches"`
		Count      int                 `json:"count"`
	}
	decode(t, body, &created)
	require.Equal(t, 1, created.Count)
	id := created.Dispatches[0].ID
	vol := as("vol-1", auth.RoleVolunteer, false)

	code, _ = s.do(t, "POST", "/api/dispatches/"+id+"/respond", map[string]string{"decision": "accept"}, vol)
	require.Equal(t, 200, code)

	code, body = s.do(t, "POST", "/api/dispatches/"+id+"/complete", nil, vol)
	assert.Equal(t, 422, code)
	assert.Contains(t, string(body), "proof_required")

	code, _ = s.do(t, "POST", "/api/dispatches/"+id+"/proofs", map[string]string{
		"url": "https://cdn.example.com/proof-1.jpg", "mimeType": "image/jpeg",
	}, vol)
	require.Equal(t, 200, code)
	code, _ = s.do(t, "POST", "/api/dispatches/"+id+"/complete", nil, vol)
	require.Equal(t, 200, code)

	code, body = s.do(t, "POST", "/api/dispatches/"+id+"/verify", nil, as("admin-1", auth.RoleAdmin, false))
	assert.Equal(t, 403, code)
	assert.Contains(t, string(body), "step_up_required")

	code, body = s.do(t, "POST", "/api/dispatches/"+id+"/verify", nil, as("admin-1", auth.RoleAdmin, true))
	require.Equal(t, 200, code, string(body))
	var verified dispatch.Dispatch
	decode(t, body, &verified)
	assert.Equal(t, dispatch.StatusVerified, verified.Status)
	assert.Equal(t, dispatch.AnchorAnchored, verified.Anchor.Status)

	code, body = s.do(t, "GET", "/api/dispatches/"+id+"/ledger-record", nil, as("lgu-1", auth.RoleLGU, false))
	require.Equal(t, 200, code)
	var rec ledger.Record
	decode(t, body, &rec)
	assert.Equal(t, verified.Anchor.RecordHash, rec.RecordHash)

	w := ut.PerformRequest(s.h.Engine, "GET", "/api/dispatches/"+id+"/evidence", jsonBody(t, nil), as("lgu-1", auth.RoleLGU, false)...)
	require.Equal(t, 200, w.Result().StatusCode())
	assert.Equal(t, "application/zip", string(w.Result().Header.ContentType()))
	result := proof.VerifyEvidenceZip(w.Result().Body(), nil)
	assert.True(t, result.OK, result.Errors)
	assert.Equal(t, rec.RecordHash, result.RecordHash)

	code, body = s.do(t, "GET", "/api/dispatches/"+id+"/events", nil, vol)
	require.Equal(t, 200, code)
	assert.Contains(t, string(body), id)

	got, err := s.reports.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusResolved, got.Status)
}

func TestDispatchPermissions(t *testing.T) {
	s := newTestServer(t, false)

	code, _ := s.do(t, "GET", "/api/dispatches", nil, as("vol-1", auth.RoleVolunteer, false))
	assert.Equal(t, 403, code)

	code, _ = s.do(t, "POST", "/api/dispatches", map[string]interface{}{
		"emergencyId": "e1", "volunteerIds": []string{"v1"},
	}, as("res-1", auth.RoleResident, false))
	assert.Equal(t, 403, code)

	code, _ = s.do(t, "GET", "/api/dispatches", nil, nil)
	assert.Equal(t, 401, code)

	code, body := s.do(t, "GET", "/api/dispatches/missing", nil, as("lgu-1", auth.RoleLGU, false))
	assert.Equal(t, 404, code)
	assert.Contains(t, string(body), "not_found")
}

func TestVolunteerReadsOnlyOwnDispatch(t *testing.T) {
	s := newTestServer(t, false)
	r, err := s.reports.Create(context.Background(), report.CreateInput{IsSOS: true, ReporterID: "res-1"})
	require.NoError(t, err)

	code, body := s.do(t, "POST", "/api/dispatches", map[string]interface{}{
		"emergencyId": r.ID, "volunteerIds": []string{"vol-1"},
	}, as("admin-1", auth.RoleAdmin, false))
	require.Equal(t, 201, code, string(body))
	var created struct {
		Dispatches []dispatch.Dispatch `json:"dispatches"`
	}
	decode(t, body, &created)
	id := created.Dispatches[0].ID

	code, _ = s.do(t, "GET", "/api/dispatches/"+id, nil, as("vol-1", auth.RoleVolunteer, false))
	assert.Equal(t, 200, code)
	code, _ = s.do(t, "GET", "/api/dispatches/"+id, nil, as("vol-2", auth.RoleVolunteer, false))
	assert.Equal(t, 403, code)

	code, body = s.do(t, "GET", "/api/dispatches/mine", nil, as("vol-1", auth.RoleVolunteer, false))
	assert.Equal(t, 200, code)
	assert.Contains(t, string(body), `"count":1`)
}

func TestRejectReportValidation(t *testing.T) {
	s := newTestServer(t, false)
	r, err := s.reports.Create(context.Background(), report.CreateInput{
		Type:     report.TypeFire,
		Location: report.Location{Latitude: 16, Longitude: 120},
	})
	require.NoError(t, err)

	code, body := s.do(t, "PATCH", "/api/reports/"+r.ID+"/reject", map[string]string{"reason": " "},
		as("lgu-1", auth.RoleLGU, false))
	assert.Equal(t, 400, code)
	assert.Contains(t, string(body), `"field":"reason"`)
	assert.Contains(t, string(body), "at least 3")

	code, _ = s.do(t, "PATCH", "/api/reports/"+r.ID+"/reject", map[string]string{"reason": "duplicate report"},
		as("lgu-1", auth.RoleLGU, false))
	assert.Equal(t, 200, code)

	code, body = s.do(t, "PATCH", "/api/reports/"+r.ID+"/approve", nil, as("lgu-1", auth.RoleLGU, false))
	assert.Equal(t, 409, code)
	assert.Contains(t, string(body), "conflict")

	code, body = s.do(t, "GET", "/api/reports/approvals?status=rejected", nil, as("admin-1", auth.RoleAdmin, false))
	assert.Equal(t, 200, code)
	assert.Contains(t, string(body), r.ID)

	code, _ = s.do(t, "GET", "/api/reports/approvals", nil, as("vol-1", auth.RoleVolunteer, false))
	assert.Equal(t, 403, code)
}

func TestLedgerStatusUnconfigured(t *testing.T) {
	s := newTestServer(t, false)
	code, body := s.do(t, "GET", "/api/ledger/status", nil, as("admin-1", auth.RoleAdmin, false))
	assert.Equal(t, 422, code)
	assert.Contains(t, string(body), "ledger_misconfigured")
}

func TestStepUpFlow(t *testing.T) {
	s := newTestServer(t, true)
	jwtAuth, err := middleware.NewJWTAuth([]byte("test-secret"), time.Hour, time.Hour)
	require.NoError(t, err)
	token, _, err := jwtAuth.TokenGenerator(auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin, Email: "admin@example.com"})
	require.NoError(t, err)

	code, body := s.do(t, "POST", "/api/dispatches/missing/verify", nil, bearer(token))
	assert.Equal(t, 403, code)
	assert.Contains(t, string(body), "step_up_required")

	code, body = s.do(t, "POST", "/api/auth/step-up", nil, bearer(token))
	require.Equal(t, 201, code, string(body))
	var issued challenge.Issued
	decode(t, body, &issued)
	assert.Equal(t, "ad***@example.com", issued.DeliveryTarget)

	code, body = s.do(t, "POST", "/api/auth/step-up/verify", map[string]string{
		"challengeId": issued.ChallengeID, "code": "not-a-code",
	}, bearer(token))
	assert.Equal(t, 401, code)
	assert.Contains(t, string(body), "code_mismatch")

	code, body = s.do(t, "POST", "/api/auth/step-up/verify", map[string]string{
		"challengeId": issued.ChallengeID, "code": s.box.code(issued.ChallengeID),
	}, bearer(token))
	require.Equal(t, 200, code, string(body))
	var out struct {
		Token string `json:"token"`
	}
	decode(t, body, &out)
	require.NotEmpty(t, out.Token)

	code, _ = s.do(t, "POST", "/api/dispatches/missing/verify", nil, bearer(out.Token))
	assert.Equal(t, 404, code)

	code, body = s.do(t, "POST", "/api/auth/step-up/verify", map[string]string{
		"challengeId": issued.ChallengeID, "code": s.box.code(issued.ChallengeID),
	}, bearer(token))
	assert.Equal(t, 410, code)
	assert.Contains(t, string(body), "challenge_expired")
}

func TestStepUpVerifyRejectsOtherAccount(t *testing.T) {
	s := newTestServer(t, true)
	jwtAuth, err := middleware.NewJWTAuth([]byte("test-secret"), time.Hour, time.Hour)
	require.NoError(t, err)
	owner, _, err := jwtAuth.TokenGenerator(auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin, Email: "admin@example.com"})
	require.NoError(t, err)
	other, _, err := jwtAuth.TokenGenerator(auth.Identity{UserID: "admin-2", Role: auth.RoleAdmin, Email: "other@example.com"})
	require.NoError(t, err)

	code, body := s.do(t, "POST", "/api/auth/step-up", nil, bearer(owner))
	require.Equal(t, 201, code, string(body))
	var issued challenge.Issued
	decode(t, body, &issued)
	otp := s.box.code(issued.ChallengeID)

	for i := 0; i < challenge.DefaultMaxAttempts+1; i++ {
		code, body = s.do(t, "POST", "/api/auth/step-up/verify", map[string]string{
			"challengeId": issued.ChallengeID, "code": otp,
		}, bearer(other))
		require.Equal(t, 403, code, string(body))
		assert.Contains(t, string(body), "forbidden")
	}

	n, err := s.challenges.Attempts(context.Background(), issued.ChallengeID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	code, body = s.do(t, "POST", "/api/auth/step-up/verify", map[string]string{
		"challengeId": issued.ChallengeID, "code": otp,
	}, bearer(owner))
	assert.Equal(t, 200, code, string(body))
}

func TestStepUpRejectsVolunteer(t *testing.T) {
	s := newTestServer(t, false)
	code, _ := s.do(t, "POST", "/api/auth/step-up", nil, as("vol-1", auth.RoleVolunteer, false))
	assert.Equal(t, 403, code)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{dispatch.ErrInvalidTransition, 409},
		{dispatch.ErrSelfVerification, 403},
		{challenge.ErrTooManyAttempts, 429},
		{challenge.ErrNotOwner, 403},
		{ledger.ErrInsufficientFunds, 422},
		{ledger.ErrConfirmationTimeout, 504},
		{ledger.ErrWriteFailed, 502},
		{report.ErrNotPending, 409},
		{context.Canceled, 500},
	}
	for _, tc := range tests {
		status, _ := errorStatus(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}
