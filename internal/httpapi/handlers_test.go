package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/advisory"
	"benchguard.io/internal/anomaly"
	"benchguard.io/internal/audit"
	"benchguard.io/internal/auth"
	"benchguard.io/internal/ops"
)

const (
	adminEmail    = "root@shop.test"
	adminPassword = "correct-horse"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
	svc     Services
	admin   *auth.Actor
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	ctx := context.Background()

	ledger, err := audit.NewLedger(audit.NewMemoryStore(), audit.WithChain(true))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	log, err := activity.NewLog(activity.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewLog: %v", err)
	}
	store := auth.NewMemoryStore()
	matrix, err := auth.NewMatrixManager(store, ledger)
	if err != nil {
		t.Fatalf("NewMatrixManager: %v", err)
	}
	tokens, err := auth.NewTokens("test-secret", auth.WithTokenTTL(time.Hour))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	directory, err := auth.NewDirectory(store, ledger, matrix, auth.WithActivity(log), auth.WithTokens(tokens))
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	guard := auth.NewGuard(auth.NewResolver(store), auth.WithDenialLog(log))
	opsStore := ops.NewInMemory()
	scanner := anomaly.NewScanner(nil, anomaly.Sources{
		Audit:    ledger,
		Activity: log,
		Ops:      opsStore,
		Actors:   directory,
	})

	admin, created, err := directory.Bootstrap(ctx, auth.NewActor{
		Name:     "Root",
		Email:    adminEmail,
		Password: adminPassword,
	})
	if err != nil || !created {
		t.Fatalf("Bootstrap: created=%v err=%v", created, err)
	}

	svc := Services{
		Directory: directory,
		Matrix:    matrix,
		Guard:     guard,
		Ledger:    ledger,
		Activity:  log,
		Ops:       opsStore,
		Scanner:   scanner,
		Advisory:  advisory.NewClient(advisory.Config{}),
	}
	api, err := New(ReadyProbe{}, "test", svc, WithRateLimit(1000, 1000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
		svc:     svc,
		admin:   admin,
	}
}

func (c *apiClient) do(method, path, token string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path, token string, params url.Values) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, token, nil, nil)
}

func (c *apiClient) obtainToken(email, password string) string {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	payload := decode[tokenResponse](c.t, resp)
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

// createStaff provisions a staff admin through the API and returns it with a
// fresh token.
func (c *apiClient) createStaff(adminToken, email string) (*auth.Actor, string) {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/v1/actors", adminToken, map[string]any{
		"name":     "Kofi",
		"email":    email,
		"password": "bench-pass-1",
		"role":     "staff_admin",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		c.t.Fatalf("create staff status: %d", resp.StatusCode)
	}
	actor := decode[auth.Actor](c.t, resp)
	return &actor, c.obtainToken(email, "bench-pass-1")
}

func (c *apiClient) expectStatus(resp *http.Response, want int) {
	c.t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		c.t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	c.expectStatus(c.get("/healthz", "", nil), http.StatusOK)
	c.expectStatus(c.get("/readyz", "", nil), http.StatusOK)

	resp := c.get("/v1/info", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("info status: %d", resp.StatusCode)
	}
	info := decode[map[string]any](t, resp)
	if info["version"] != "test" || info["audit_chain"] != true {
		t.Fatalf("unexpected info: %v", info)
	}
	if info["advisory"] != false {
		t.Fatalf("advisory should be disabled without a key: %v", info["advisory"])
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
	resp.Body.Close()

	c.expectStatus(c.get("/v1/me", "not-a-token", nil), http.StatusUnauthorized)
	c.expectStatus(c.get("/v1/nowhere", "", nil), http.StatusNotFound)
}

func TestTokenFlowRecordsLoginActivity(t *testing.T) {
	c := newTestAPI(t)

	c.expectStatus(c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"email":    adminEmail,
		"password": "wrong-password",
	}, nil), http.StatusUnauthorized)
	c.expectStatus(c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"email": "not-an-email",
	}, nil), http.StatusUnprocessableEntity)

	token := c.obtainToken(adminEmail, adminPassword)
	resp := c.get("/v1/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me status: %d", resp.StatusCode)
	}
	me := decode[struct {
		Actor auth.Actor `json:"actor"`
	}](t, resp)
	if me.Actor.ID != c.admin.ID || me.Actor.Role != auth.RoleSuperAdmin {
		t.Fatalf("unexpected actor: %+v", me.Actor)
	}

	logins, err := c.svc.Activity.List(context.Background(), activity.Filter{UserID: c.admin.ID, Action: activity.ActionLogin})
	if err != nil {
		t.Fatalf("List activity: %v", err)
	}
	if len(logins) != 2 {
		t.Fatalf("expected 2 login entries, got %d", len(logins))
	}
	if logins[0].Status != activity.StatusSuccess || logins[1].Status != activity.StatusFailed {
		t.Fatalf("unexpected login statuses: %s, %s", logins[0].Status, logins[1].Status)
	}
}

func TestGrantUnlocksGuardedOperation(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.obtainToken(adminEmail, adminPassword)
	staff, staffToken := c.createStaff(adminToken, "kofi@shop.test")

	resp := c.get("/v1/actors/"+staff.ID+"/permissions", staffToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own permissions status: %d", resp.StatusCode)
	}
	perms := decode[permissionsResponse](t, resp)
	if perms.Implicit {
		t.Fatalf("staff matrix should not be implicit")
	}
	if g := perms.Matrix[auth.ModuleBilling]; !g.Read || g.Write {
		t.Fatalf("expected baseline read-only billing, got %+v", g)
	}

	tx := map[string]any{"amount": 120.5, "currency": "GHS"}
	resp = c.do(http.MethodPost, "/v1/operations/transactions", staffToken, tx, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 before grant, got %d", resp.StatusCode)
	}
	denied := decode[map[string]any](t, resp)
	if msg, _ := denied["error"].(string); !strings.Contains(msg, auth.ReasonNotGranted) {
		t.Fatalf("unexpected denial message %q", msg)
	}

	c.expectStatus(c.do(http.MethodPut, "/v1/actors/"+staff.ID+"/permissions/billing", staffToken,
		map[string]any{"access": "write", "value": true}, nil), http.StatusForbidden)

	resp = c.do(http.MethodPut, "/v1/actors/"+staff.ID+"/permissions/billing", adminToken,
		map[string]any{"access": "write", "value": true}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grant status: %d", resp.StatusCode)
	}
	grant := decode[auth.Grant](t, resp)
	if !grant.Read || !grant.Write {
		t.Fatalf("unexpected grant %+v", grant)
	}

	resp = c.do(http.MethodPost, "/v1/operations/transactions", staffToken, tx, map[string]string{"Idempotency-Key": "tx-1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 after grant, got %d", resp.StatusCode)
	}
	first := decode[ops.Transaction](t, resp)
	resp = c.do(http.MethodPost, "/v1/operations/transactions", staffToken, tx, map[string]string{"Idempotency-Key": "tx-1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected replay 201, got %d", resp.StatusCode)
	}
	if replay := decode[ops.Transaction](t, resp); replay.ID != first.ID {
		t.Fatalf("idempotent replay returned %s, want %s", replay.ID, first.ID)
	}

	resp = c.get("/v1/audit", adminToken, url.Values{"q": {"Module [billing] Write granted"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit status: %d", resp.StatusCode)
	}
	entries := decode[listAuditResponse](t, resp)
	if len(entries.Items) != 1 {
		t.Fatalf("expected one grant entry, got %d", len(entries.Items))
	}
	if e := entries.Items[0]; e.Action != auth.ActionPermissionGranted || e.ActorID != c.admin.ID {
		t.Fatalf("unexpected entry %+v", e)
	}

	denials, err := c.svc.Activity.List(context.Background(), activity.Filter{UserID: staff.ID, Action: activity.ActionAccessDenied})
	if err != nil {
		t.Fatalf("List activity: %v", err)
	}
	if len(denials) == 0 {
		t.Fatalf("expected denial activity for staff")
	}

	resp = c.get("/v1/audit/verify", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDisabledActorTokenRevoked(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.obtainToken(adminEmail, adminPassword)
	staff, staffToken := c.createStaff(adminToken, "ama@shop.test")

	c.expectStatus(c.get("/v1/me", staffToken, nil), http.StatusOK)

	resp := c.do(http.MethodPatch, "/v1/actors/"+staff.ID+"/status", adminToken, map[string]any{"status": "disabled"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status change: %d", resp.StatusCode)
	}
	if updated := decode[auth.Actor](t, resp); updated.Status != auth.StatusDisabled {
		t.Fatalf("expected disabled, got %s", updated.Status)
	}

	c.expectStatus(c.get("/v1/me", staffToken, nil), http.StatusUnauthorized)
	c.expectStatus(c.do(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"email":    "ama@shop.test",
		"password": "bench-pass-1",
	}, nil), http.StatusUnauthorized)

	resp = c.get("/v1/audit", adminToken, url.Values{"q": {auth.ActionActorDisabled}})
	if entries := decode[listAuditResponse](t, resp); len(entries.Items) != 1 {
		t.Fatalf("expected one disable entry, got %d", len(entries.Items))
	}
}

func TestForceLogoutRevokesOutstandingTokens(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.obtainToken(adminEmail, adminPassword)
	staff, staffToken := c.createStaff(adminToken, "yaw@shop.test")

	c.expectStatus(c.do(http.MethodPost, "/v1/actors/"+staff.ID+"/force-logout", adminToken, nil, nil), http.StatusOK)
	c.expectStatus(c.get("/v1/me", staffToken, nil), http.StatusUnauthorized)

	fresh := c.obtainToken("yaw@shop.test", "bench-pass-1")
	c.expectStatus(c.get("/v1/me", fresh, nil), http.StatusOK)
}

func TestSetPermissionValidation(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.obtainToken(adminEmail, adminPassword)
	staff, _ := c.createStaff(adminToken, "esi@shop.test")

	base := "/v1/actors/" + staff.ID + "/permissions/"
	c.expectStatus(c.do(http.MethodPut, base+"payroll", adminToken,
		map[string]any{"access": "write", "value": true}, nil), http.StatusBadRequest)
	c.expectStatus(c.do(http.MethodPut, base+"billing", adminToken,
		map[string]any{"access": "delete", "value": true}, nil), http.StatusBadRequest)
	c.expectStatus(c.do(http.MethodPut, base+"billing", adminToken,
		map[string]any{"access": "write"}, nil), http.StatusUnprocessableEntity)
	c.expectStatus(c.do(http.MethodPut, "/v1/actors/"+c.admin.ID+"/permissions/billing", adminToken,
		map[string]any{"access": "write", "value": true}, nil), http.StatusUnprocessableEntity)
	c.expectStatus(c.do(http.MethodPut, "/v1/actors/missing/permissions/billing", adminToken,
		map[string]any{"access": "write", "value": true}, nil), http.StatusNotFound)
}

func TestFeatureFlagToggle(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.obtainToken(adminEmail, adminPassword)

	resp := c.do(http.MethodPut, "/v1/flags/anomaly_monitor", adminToken, map[string]any{"enabled": true}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set flag status: %d", resp.StatusCode)
	}
	if flag := decode[auth.FeatureFlag](t, resp); !flag.Enabled || flag.Key != "anomaly_monitor" {
		t.Fatalf("unexpected flag %+v", flag)
	}

	resp = c.get("/v1/audit", adminToken, url.Values{"q": {"Flag [anomaly_monitor] transitioned to ENABLED"}})
	if entries := decode[listAuditResponse](t, resp); len(entries.Items) != 1 {
		t.Fatalf("expected one flag entry, got %d", len(entries.Items))
	}
}

func TestAnomalyScanFlagsHighValueTransfer(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.obtainToken(adminEmail, adminPassword)

	c.expectStatus(c.do(http.MethodPost, "/v1/operations/transactions", adminToken,
		map[string]any{"amount": 25000, "currency": "USD"}, nil), http.StatusCreated)
	c.expectStatus(c.do(http.MethodPost, "/v1/operations/transactions", adminToken,
		map[string]any{"amount": 40, "currency": "USD"}, nil), http.StatusCreated)

	resp := c.get("/v1/anomalies", adminToken, url.Values{"risk": {"critical"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("scan status: %d", resp.StatusCode)
	}
	res := decode[anomaly.Result](t, resp)
	if len(res.Report.Flags) != 1 {
		t.Fatalf("expected one critical flag, got %+v", res.Report.Flags)
	}
	flag := res.Report.Flags[0]
	if flag.Detector != anomaly.DetectorPayment || flag.Risk != anomaly.RiskCritical || flag.Entity != "Root" {
		t.Fatalf("unexpected flag %+v", flag)
	}

	resp = c.get("/v1/anomalies/summary", adminToken, nil)
	summary := decode[anomaly.Summary](t, resp)
	if summary.HighRiskTransactions != 1 || summary.Critical24h != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestAnomalyEventsRequireMonitor(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.obtainToken(adminEmail, adminPassword)
	c.expectStatus(c.get("/v1/anomalies/events", adminToken, nil), http.StatusServiceUnavailable)
}

func TestAdvisoryReportUnavailable(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.obtainToken(adminEmail, adminPassword)

	resp := c.do(http.MethodPost, "/v1/advisory/report", adminToken, nil, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["error"] != "service temporarily unavailable" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestPermissionEventsStream(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.obtainToken(adminEmail, adminPassword)
	staff, staffToken := c.createStaff(adminToken, "abena@shop.test")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/actors/"+staff.ID+"/permissions/events?access_token="+url.QueryEscape(staffToken), nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream started") {
		t.Fatalf("expected stream preamble, got %q (%v)", line, err)
	}

	c.expectStatus(c.do(http.MethodPut, "/v1/actors/"+staff.ID+"/permissions/inventory", adminToken,
		map[string]any{"access": "write", "value": true}, nil), http.StatusOK)

	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
	var change auth.PermissionChange
	if err := json.Unmarshal([]byte(data), &change); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if change.ActorID != staff.ID || change.Module != auth.ModuleInventory || !change.Value || change.AuditID == "" {
		t.Fatalf("unexpected change %+v", change)
	}
}

func TestPermissionSocket(t *testing.T) {
	c := newTestAPI(t)
	adminToken := c.obtainToken(adminEmail, adminPassword)
	staff, staffToken := c.createStaff(adminToken, "kwame@shop.test")

	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/actors/" + staff.ID + "/permissions/ws"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+staffToken)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for c.svc.Matrix.Events().Subscribers(staff.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("socket never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.expectStatus(c.do(http.MethodPut, "/v1/actors/"+staff.ID+"/permissions/repairs", adminToken,
		map[string]any{"access": "read", "value": false}, nil), http.StatusOK)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var change auth.PermissionChange
	if err := conn.ReadJSON(&change); err != nil {
		t.Fatalf("read change: %v", err)
	}
	if change.Module != auth.ModuleRepairs || change.Access != auth.AccessRead || change.Value {
		t.Fatalf("unexpected change %+v", change)
	}
	if change.Action != auth.ActionPermissionRevoked {
		t.Fatalf("expected revoke action, got %s", change.Action)
	}
}
