package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ilg-ai/warden/pkg/governor"
	"github.com/ilg-ai/warden/pkg/store"
)

type mockGovernor struct {
	decision governor.Decision
	admitErr error
	recorded []governor.CallResult
	statuses []governor.ProviderStatus
}

func (m *mockGovernor) Admit(ctx context.Context, provider string) (governor.Decision, error) {
	if m.admitErr != nil {
		return governor.Decision{}, m.admitErr
	}
	d := m.decision
	d.Provider = provider
	return d, nil
}

func (m *mockGovernor) Record(ctx context.Context, provider string, res governor.CallResult) error {
	m.recorded = append(m.recorded, res)
	return nil
}

func (m *mockGovernor) Status(ctx context.Context) ([]governor.ProviderStatus, error) {
	return m.statuses, nil
}

type mockLedger struct {
	records []*store.UsageRecord
}

func (m *mockLedger) AppendUsage(ctx context.Context, rec *store.UsageRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *mockLedger) CountSince(ctx context.Context, provider string, since time.Time) (int, error) {
	return len(m.records), nil
}

func (m *mockLedger) LastRecord(ctx context.Context, provider string) (*store.UsageRecord, error) {
	if len(m.records) == 0 {
		return nil, nil
	}
	return m.records[len(m.records)-1], nil
}

func (m *mockLedger) QueryUsage(ctx context.Context, filter store.UsageFilter) ([]*store.UsageRecord, error) {
	var out []*store.UsageRecord
	for _, r := range m.records {
		if filter.Provider != "" && r.Provider != filter.Provider {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func newTestServer(gov GovernorInterface, ledger store.Ledger) *Server {
	return NewServer(gov, ledger, ":0", zerolog.Nop())
}

func TestAdmitAllowed(t *testing.T) {
	gov := &mockGovernor{decision: governor.Decision{Allowed: true, Remaining: 12}}
	srv := newTestServer(gov, &mockLedger{})

	req := httptest.NewRequest(http.MethodPost, "/v1/admit", strings.NewReader(`{"provider":"reddit"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var dec governor.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &dec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !dec.Allowed || dec.Provider != "reddit" || dec.Remaining != 12 {
		t.Fatalf("unexpected decision: %+v", dec)
	}
}

func TestAdmitDeniedIsStillHTTP200(t *testing.T) {
	// A quota denial is a normal decision, not a transport failure.
	gov := &mockGovernor{decision: governor.Decision{
		Allowed:    false,
		Reason:     governor.DenyHardStopReached,
		RetryAfter: time.Now().Add(time.Hour),
	}}
	srv := newTestServer(gov, &mockLedger{})

	req := httptest.NewRequest(http.MethodPost, "/v1/admit", strings.NewReader(`{"provider":"twitter"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var dec governor.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &dec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Allowed || dec.Reason != governor.DenyHardStopReached {
		t.Fatalf("unexpected decision: %+v", dec)
	}
}

func TestAdmitStorageFailureIs503(t *testing.T) {
	gov := &mockGovernor{admitErr: governor.ErrStorageFailure}
	srv := newTestServer(gov, &mockLedger{})

	req := httptest.NewRequest(http.MethodPost, "/v1/admit", strings.NewReader(`{"provider":"twitter"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAdmitMissingProvider(t *testing.T) {
	srv := newTestServer(&mockGovernor{}, &mockLedger{})

	req := httptest.NewRequest(http.MethodPost, "/v1/admit", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRecordValidOutcome(t *testing.T) {
	gov := &mockGovernor{}
	srv := newTestServer(gov, &mockLedger{})

	body := `{"provider":"linkedin","outcome":"success","auth_source":"proxycurl"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/record", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(gov.recorded) != 1 || gov.recorded[0].Outcome != store.OutcomeSuccess {
		t.Fatalf("unexpected records: %+v", gov.recorded)
	}
}

func TestRecordRejectsRefusedOutcome(t *testing.T) {
	// Refused records are written by the governor itself during
	// admission audit; clients may not submit them.
	srv := newTestServer(&mockGovernor{}, &mockLedger{})

	body := `{"provider":"linkedin","outcome":"refused"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/record", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	gov := &mockGovernor{statuses: []governor.ProviderStatus{
		{Provider: "twitter", State: governor.StateClosed},
	}}
	srv := newTestServer(gov, &mockLedger{})

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var statuses []governor.ProviderStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Provider != "twitter" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
}

func TestUsageEndpointFiltersByProvider(t *testing.T) {
	ledger := &mockLedger{records: []*store.UsageRecord{
		{RecordID: "1", Provider: "reddit", Outcome: store.OutcomeSuccess},
		{RecordID: "2", Provider: "twitter", Outcome: store.OutcomeSuccess},
	}}
	srv := newTestServer(&mockGovernor{}, ledger)

	req := httptest.NewRequest(http.MethodGet, "/v1/usage?provider=reddit", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var records []*store.UsageRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].Provider != "reddit" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestReportsEndpointStreamsCSV(t *testing.T) {
	ledger := &mockLedger{records: []*store.UsageRecord{
		{RecordID: "1", Provider: "linkedin", Timestamp: time.Now(), Outcome: store.OutcomeSuccess, AuthSource: "proxycurl"},
	}}
	srv := newTestServer(&mockGovernor{}, ledger)

	req := httptest.NewRequest(http.MethodGet, "/v1/reports?type=call_log", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Errorf("Content-Type = %q", got)
	}
	if !strings.Contains(rec.Body.String(), "proxycurl") {
		t.Errorf("csv missing record: %s", rec.Body.String())
	}
}

func TestReportsEndpointRejectsMissingType(t *testing.T) {
	srv := newTestServer(&mockGovernor{}, &mockLedger{})

	req := httptest.NewRequest(http.MethodGet, "/v1/reports", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&mockGovernor{}, &mockLedger{})

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}
