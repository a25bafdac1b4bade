package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"skills-studio/apperr"
	"skills-studio/middleware"
	"skills-studio/models"
	"skills-studio/services"
)

// ── Mock services ──

type mockAmbassadorService struct {
	ambassador *models.Ambassador
	created    bool
	link       *services.PayoutLink
	stats      *services.Stats
	err        error
	gotLinks   []string
	gotUser    string
}

func (m *mockAmbassadorService) record(p *services.Principal) {
	if p != nil {
		m.gotUser = p.UserID
	}
}

func (m *mockAmbassadorService) Get(_ context.Context, p *services.Principal) (*models.Ambassador, error) {
	m.record(p)
	return m.ambassador, m.err
}
func (m *mockAmbassadorService) Apply(_ context.Context, p *services.Principal) (*models.Ambassador, bool, error) {
	m.record(p)
	return m.ambassador, m.created, m.err
}
func (m *mockAmbassadorService) SubmitSocialProof(_ context.Context, p *services.Principal, links []string) (*models.Ambassador, error) {
	m.record(p)
	m.gotLinks = links
	return m.ambassador, m.err
}
func (m *mockAmbassadorService) CompleteTraining(_ context.Context, p *services.Principal) (*models.Ambassador, error) {
	m.record(p)
	return m.ambassador, m.err
}
func (m *mockAmbassadorService) BeginPayoutOnboarding(_ context.Context, p *services.Principal) (*services.PayoutLink, error) {
	m.record(p)
	return m.link, m.err
}
func (m *mockAmbassadorService) DisconnectPayout(_ context.Context, p *services.Principal) (*models.Ambassador, error) {
	m.record(p)
	return m.ambassador, m.err
}
func (m *mockAmbassadorService) Stats(_ context.Context, p *services.Principal) (*services.Stats, error) {
	m.record(p)
	return m.stats, m.err
}

type mockAttributionService struct {
	referral *models.Referral
	created  bool
	err      error
	gotUser  string
	gotCode  string
}

func (m *mockAttributionService) Attribute(_ context.Context, userID, code string) (*models.Referral, bool, error) {
	m.gotUser, m.gotCode = userID, code
	return m.referral, m.created, m.err
}

type mockBillingService struct {
	result       string
	err          error
	gotPayload   []byte
	gotSignature string
}

func (m *mockBillingService) HandleStripeWebhook(_ context.Context, payload []byte, sig string) (string, error) {
	m.gotPayload, m.gotSignature = payload, sig
	return m.result, m.err
}

type mockLedgerService struct {
	commission *models.Commission
	created    bool
	err        error
	got        services.AccrueInput
}

func (m *mockLedgerService) Accrue(_ context.Context, in services.AccrueInput) (*models.Commission, bool, error) {
	m.got = in
	return m.commission, m.created, m.err
}

type mockRevoker struct {
	called  bool
	revoked bool
}

func (m *mockRevoker) Revoke(_ context.Context, _ *services.SessionClaims) (bool, error) {
	m.called = true
	return m.revoked, nil
}

// testAuth stands in for session auth: X-Test-User becomes the caller.
func testAuth(c *fiber.Ctx) error {
	userID := c.Get("X-Test-User")
	if userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
	}
	c.Locals(middleware.LocalUserID, userID)
	c.Locals(middleware.LocalUserEmail, userID+"@example.com")
	c.Locals(middleware.LocalClaims, &services.SessionClaims{})
	return c.Next()
}

func testServiceAuth(c *fiber.Ctx) error {
	if c.Get(middleware.HeaderServiceToken) != "svc" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid service authentication token"})
	}
	return c.Next()
}

func doRequest(t *testing.T, app *fiber.App, method, path, user string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

func step(n models.OnboardingStep) *models.Ambassador {
	code := "ABCD2345"
	return &models.Ambassador{ID: "amb-1", UserID: "u1", OnboardingStep: n, ReferralCode: &code}
}

// ── Tests ──

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		reason string
	}{
		{apperr.Unauthorized(apperr.ReasonMissingCredential, "authentication required"), 401, apperr.ReasonMissingCredential},
		{apperr.PermissionDenied(apperr.ReasonRequiresPro, "pro required"), 403, apperr.ReasonRequiresPro},
		{apperr.Validation(apperr.ReasonInsufficientLinks, "need 3"), 400, apperr.ReasonInsufficientLinks},
		{apperr.NotFound(apperr.ReasonAmbassadorNotFound, "not an ambassador"), 404, apperr.ReasonAmbassadorNotFound},
		{apperr.Upstream(apperr.ReasonPayoutProcessor, errors.New("Stripe says no")), 502, apperr.ReasonPayoutProcessor},
		{errors.New("ERROR: new row violates check constraint \"chk_commissions_amount\" (SQLSTATE 23514)"), 500, ""},
	}
	for _, tc := range cases {
		svc := &mockAmbassadorService{err: tc.err}
		app := fiber.New()
		SetupAmbassadorRoutes(app, svc, testAuth, zap.NewNop())

		resp, body := doRequest(t, app, http.MethodPost, "/ambassador/apply", "u1", nil)
		if resp.StatusCode != tc.status {
			t.Errorf("%v: status = %d, want %d", tc.err, resp.StatusCode, tc.status)
		}
		if got, _ := body["reason"].(string); got != tc.reason {
			t.Errorf("%v: reason = %q", tc.err, got)
		}
		if tc.status == 500 && body["error"] != tc.err.Error() {
			t.Errorf("store error not returned verbatim: %v", body["error"])
		}
		if tc.status == 502 && body["error"] != "Stripe says no" {
			t.Errorf("upstream message = %v", body["error"])
		}
	}
}

func TestAmbassadorRoutesRequireSession(t *testing.T) {
	app := fiber.New()
	SetupAmbassadorRoutes(app, &mockAmbassadorService{}, testAuth, zap.NewNop())

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/ambassador/me"},
		{http.MethodPost, "/ambassador/apply"},
		{http.MethodPost, "/ambassador/verify-posts"},
		{http.MethodPost, "/ambassador/complete-training"},
		{http.MethodPost, "/ambassador/connect"},
		{http.MethodPost, "/ambassador/disconnect"},
		{http.MethodGet, "/ambassador/stats"},
	} {
		resp, _ := doRequest(t, app, route.method, route.path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d", route.method, route.path, resp.StatusCode)
		}
	}
}

func TestApplyRoute(t *testing.T) {
	svc := &mockAmbassadorService{ambassador: step(models.StepApplied), created: true}
	app := fiber.New()
	SetupAmbassadorRoutes(app, svc, testAuth, zap.NewNop())

	resp, body := doRequest(t, app, http.MethodPost, "/ambassador/apply", "u1", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["success"] != true || body["created"] != true {
		t.Errorf("body = %v", body)
	}
	if svc.gotUser != "u1" {
		t.Errorf("principal = %q", svc.gotUser)
	}

	svc.created = false
	resp, _ = doRequest(t, app, http.MethodPost, "/ambassador/apply", "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("repeat apply status = %d", resp.StatusCode)
	}
}

func TestVerifyPostsRoute(t *testing.T) {
	svc := &mockAmbassadorService{ambassador: step(models.StepTrained)}
	app := fiber.New()
	SetupAmbassadorRoutes(app, svc, testAuth, zap.NewNop())

	links := []string{"https://a.example/1", "https://b.example/2", "https://c.example/3"}
	resp, body := doRequest(t, app, http.MethodPost, "/ambassador/verify-posts", "u1", map[string]interface{}{"links": links})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(svc.gotLinks) != 3 || svc.gotLinks[2] != links[2] {
		t.Errorf("links passed = %v", svc.gotLinks)
	}
	amb, _ := body["ambassador"].(map[string]interface{})
	if amb["onboarding_step"] != float64(2) {
		t.Errorf("ambassador = %v", amb)
	}
}

func TestConnectRoute(t *testing.T) {
	svc := &mockAmbassadorService{link: &services.PayoutLink{
		URL: "https://connect.example/onboard", Mode: services.PayoutModeOnboarding, AccountID: "acct_1", Step: models.StepPayoutLinked,
	}}
	app := fiber.New()
	SetupAmbassadorRoutes(app, svc, testAuth, zap.NewNop())

	resp, body := doRequest(t, app, http.MethodPost, "/ambassador/connect", "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["url"] != "https://connect.example/onboard" || body["mode"] != "onboarding" || body["onboarding_step"] != float64(3) {
		t.Errorf("body = %v", body)
	}
}

func TestStatsRoute(t *testing.T) {
	svc := &mockAmbassadorService{stats: &services.Stats{
		Ambassador:      step(models.StepPayoutLinked),
		ReferralCode:    "ABCD2345",
		ReferralLink:    "https://studio.example/?ref=ABCD2345",
		Summary:         &services.Summary{TotalEarnedCents: 1250, Referrals: services.ReferralCounts{Trial: 1, Total: 1}},
		PayoutLinkError: "processor timeout",
	}}
	app := fiber.New()
	SetupAmbassadorRoutes(app, svc, testAuth, zap.NewNop())

	resp, body := doRequest(t, app, http.MethodGet, "/ambassador/stats", "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["referral_code"] != "ABCD2345" || body["payout_link_error"] != "processor timeout" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["payout_url"]; ok {
		t.Error("payout_url should be absent")
	}
	summary, _ := body["summary"].(map[string]interface{})
	if summary["total_earned_cents"] != float64(1250) {
		t.Errorf("summary = %v", summary)
	}
}

func TestAttributeRouteUsesCookieThenBody(t *testing.T) {
	svc := &mockAttributionService{referral: &models.Referral{ID: "r1", Status: models.ReferralStatusTrial}, created: true}
	app := fiber.New()
	SetupReferralRoutes(app, svc, testAuth, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/referrals/attribute", nil)
	req.Header.Set("X-Test-User", "u2")
	req.AddCookie(&http.Cookie{Name: middleware.ReferralCookieName, Value: "COOKIECODE"})
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if svc.gotCode != "COOKIECODE" || svc.gotUser != "u2" {
		t.Errorf("attribute called with user=%q code=%q", svc.gotUser, svc.gotCode)
	}
	cleared := false
	for _, ck := range resp.Cookies() {
		if ck.Name == middleware.ReferralCookieName && ck.Value == "" {
			cleared = true
		}
	}
	if !cleared {
		t.Error("ref_code cookie should be cleared after attribution")
	}

	_, body := doRequest(t, app, http.MethodPost, "/referrals/attribute", "u3", map[string]string{"code": "BODYCODE"})
	if svc.gotCode != "BODYCODE" {
		t.Errorf("body code not used: %q", svc.gotCode)
	}
	if body["attributed"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestAttributeRouteNoOp(t *testing.T) {
	svc := &mockAttributionService{}
	app := fiber.New()
	SetupReferralRoutes(app, svc, testAuth, zap.NewNop())

	resp, body := doRequest(t, app, http.MethodPost, "/referrals/attribute", "u1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["attributed"] != false {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["referral"]; ok {
		t.Error("no referral expected")
	}
}

func TestStripeWebhookRoute(t *testing.T) {
	billing := &mockBillingService{result: "processed"}
	app := fiber.New()
	SetupBillingRoutes(app, billing, &mockLedgerService{}, testServiceAuth, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if string(billing.gotPayload) != `{"id":"evt_1"}` || billing.gotSignature != "t=1,v1=abc" {
		t.Errorf("payload=%s sig=%s", billing.gotPayload, billing.gotSignature)
	}

	billing.err = apperr.Unauthorized(apperr.ReasonInvalidCredential, "invalid webhook signature")
	resp, _ = doRequest(t, app, http.MethodPost, "/webhooks/stripe", "", map[string]string{"id": "evt_2"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad signature status = %d", resp.StatusCode)
	}

	billing.err = errors.New("db down")
	resp, _ = doRequest(t, app, http.MethodPost, "/webhooks/stripe", "", map[string]string{"id": "evt_3"})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("processing failure status = %d", resp.StatusCode)
	}
}

func TestInternalCommissionsRoute(t *testing.T) {
	ledger := &mockLedgerService{commission: &models.Commission{ID: "c1", AmountCents: 580}, created: true}
	app := fiber.New()
	SetupBillingRoutes(app, &mockBillingService{}, ledger, testServiceAuth, zap.NewNop())

	resp, _ := doRequest(t, app, http.MethodPost, "/internal/commissions", "", map[string]interface{}{"ambassador_id": "a1", "amount_cents": 580})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", resp.StatusCode)
	}

	raw, _ := json.Marshal(map[string]interface{}{
		"ambassador_id": "a1", "amount_cents": 580, "idempotency_key": "inv_1", "status": "pending",
	})
	req := httptest.NewRequest(http.MethodPost, "/internal/commissions", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderServiceToken, "svc")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ledger.got.AmbassadorID != "a1" || ledger.got.AmountCents != 580 || ledger.got.IdempotencyKey != "inv_1" || ledger.got.Status != models.CommissionPending {
		t.Errorf("accrue input = %+v", ledger.got)
	}
}

func TestSystemRoutes(t *testing.T) {
	revoker := &mockRevoker{revoked: true}
	app := fiber.New()
	SetupSystemRoutes(app, revoker, testAuth, nil, zap.NewNop())

	resp, body := doRequest(t, app, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", resp.StatusCode, body)
	}

	resp, _ = doRequest(t, app, http.MethodGet, "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}

	resp, body = doRequest(t, app, http.MethodPost, "/auth/logout", "u1", nil)
	if resp.StatusCode != http.StatusOK || !revoker.called || body["revoked"] != true {
		t.Errorf("logout status = %d called = %v body = %v", resp.StatusCode, revoker.called, body)
	}
}

func TestLogoutWithoutRevocationStore(t *testing.T) {
	app := fiber.New()
	SetupSystemRoutes(app, &mockRevoker{revoked: false}, testAuth, nil, zap.NewNop())

	resp, body := doRequest(t, app, http.MethodPost, "/auth/logout", "u1", nil)
	if resp.StatusCode != http.StatusOK || body["revoked"] != false {
		t.Errorf("logout status = %d body = %v", resp.StatusCode, body)
	}
}

func TestHealthCheckFailure(t *testing.T) {
	app := fiber.New()
	SetupSystemRoutes(app, &mockRevoker{}, testAuth, func(context.Context) error { return errors.New("db down") }, zap.NewNop())

	resp, _ := doRequest(t, app, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
