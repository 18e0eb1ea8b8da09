package httpapi

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/diamond_layer/internal/diamond"
	"github.com/R3E-Network/diamond_layer/internal/diamond/events"
	"github.com/R3E-Network/diamond_layer/internal/diamond/metrics"
	"github.com/R3E-Network/diamond_layer/internal/hexutil"
	"github.com/R3E-Network/diamond_layer/internal/selector"
)

var (
	signingKey = mustKey()
	owner      = diamond.HandleFor("owner")
	getValue = selector.FromSignature("getValue()")
	fail     = selector.FromSignature("fail()")
)

func mustKey() *rsa.PrivateKey {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	return key
}

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, subject string, ttl time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(method, Claims{
		AuthMethod: "test",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	})
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func bearer(t *testing.T, sender util.Uint160) string {
	return "Bearer " + signToken(t, jwt.SigningMethodRS256, signingKey, "0x"+sender.StringLE(), time.Hour)
}

type testServer struct {
	handler *Handler
	d       *diamond.Diamond
	facet   util.Uint160
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	if opts.PublicKey == nil {
		opts.PublicKey = &signingKey.PublicKey
	}
	host := diamond.NewHost()
	d, err := diamond.New(context.Background(), diamond.Config{
		Address: diamond.HandleFor("diamond"),
		Owner:   owner,
		Env:     host,
		Metrics: opts.Metrics,
	})
	require.NoError(t, err)

	facet, err := host.Deploy("facet", diamond.ModuleFunc(func(_ context.Context, call *diamond.Call) ([]byte, error) {
		if sel, _ := selector.FromCalldata(call.Input); sel == fail {
			return nil, diamond.Revert([]byte{0xbe, 0xef})
		}
		return []byte{0x2a}, nil
	}))
	require.NoError(t, err)

	return &testServer{handler: NewHandler(d, opts), d: d, facet: facet}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, sender *util.Uint160) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if sender != nil {
		req.Header.Set("Authorization", bearer(t, *sender))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) addFacet(t *testing.T) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/cut", map[string]interface{}{
		"cuts": []map[string]interface{}{{
			"facet":     "0x" + s.facet.StringLE(),
			"action":    "add",
			"selectors": []string{"getValue()", fail.String()},
		}},
	}, &owner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestCutAndLoupe(t *testing.T) {
	s := newTestServer(t, Options{})
	s.addFacet(t)
	facet := "0x" + s.facet.StringLE()

	var grouped []facetView
	decode(t, s.do(t, http.MethodGet, "/facets", nil, nil), &grouped)
	require.Len(t, grouped, 2)
	assert.Equal(t, facet, grouped[1].Facet)
	assert.Equal(t, []string{getValue.String(), fail.String()}, grouped[1].Selectors)

	var addrs []string
	decode(t, s.do(t, http.MethodGet, "/facets/addresses", nil, nil), &addrs)
	assert.Equal(t, []string{"0x" + s.d.Address().StringLE(), facet}, addrs)

	var sels []string
	decode(t, s.do(t, http.MethodGet, "/facets/"+facet+"/selectors", nil, nil), &sels)
	assert.Equal(t, []string{getValue.String(), fail.String()}, sels)

	var route map[string]string
	decode(t, s.do(t, http.MethodGet, "/selectors/"+getValue.String()+"/facet", nil, nil), &route)
	assert.Equal(t, facet, route["facet"])

	rec := s.do(t, http.MethodGet, "/facets/nonsense/selectors", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCut_Errors(t *testing.T) {
	s := newTestServer(t, Options{})
	stranger := diamond.HandleFor("stranger")

	body := map[string]interface{}{
		"cuts": []map[string]interface{}{{
			"facet":     "0x" + s.facet.StringLE(),
			"action":    "add",
			"selectors": []string{"getValue()"},
		}},
	}
	rec := s.do(t, http.MethodPost, "/cut", body, &stranger)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	s.addFacet(t)
	rec = s.do(t, http.MethodPost, "/cut", body, &owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	decode(t, rec, &resp)
	assert.Equal(t, "duplicate_route", resp["kind"])

	rec = s.do(t, http.MethodPost, "/cut", map[string]interface{}{
		"cuts": []map[string]interface{}{{"action": "upgrade", "selectors": []string{"x()"}}},
	}, &owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/cut", map[string]interface{}{"bogus": true}, &owner)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCall(t *testing.T) {
	s := newTestServer(t, Options{})
	s.addFacet(t)

	rec := s.do(t, http.MethodPost, "/call", map[string]string{"calldata": hexutil.Encode(getValue[:])}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ok map[string]string
	decode(t, rec, &ok)
	assert.Equal(t, "0x2a", ok["result"])

	rec = s.do(t, http.MethodPost, "/call", map[string]string{"calldata": hexutil.Encode(fail[:])}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var failed map[string]string
	decode(t, rec, &failed)
	assert.Equal(t, "0xbeef", failed["revert"])
	assert.Equal(t, "revert", failed["kind"])

	rec = s.do(t, http.MethodPost, "/call", map[string]string{"calldata": "0x01020304"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCall_RateLimited(t *testing.T) {
	s := newTestServer(t, Options{CallRate: 1, CallBurst: 2})
	s.addFacet(t)

	body := map[string]string{"calldata": hexutil.Encode(getValue[:])}
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, s.do(t, http.MethodPost, "/call", body, &owner).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestInterfaces(t *testing.T) {
	s := newTestServer(t, Options{})

	var body map[string]interface{}
	decode(t, s.do(t, http.MethodGet, "/interfaces/"+diamond.InterfaceDiamondLoupe.String(), nil, nil), &body)
	assert.Equal(t, true, body["supported"])

	decode(t, s.do(t, http.MethodGet, "/interfaces/0xdeadbeef", nil, nil), &body)
	assert.Equal(t, false, body["supported"])

	rec := s.do(t, http.MethodGet, "/interfaces/xyz", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents(t *testing.T) {
	s := newTestServer(t, Options{})
	s.addFacet(t)

	var evs []events.Event
	decode(t, s.do(t, http.MethodGet, "/events?type=diamond.cut", nil, nil), &evs)
	require.Len(t, evs, 1)
	assert.Equal(t, events.EventDiamondCut, evs[0].Type)
	assert.NotEmpty(t, evs[0].RequestID)

	rec := s.do(t, http.MethodGet, "/events?n=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEvents_WebSocket(t *testing.T) {
	s := newTestServer(t, Options{})
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade completes.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = s.d.SetSupportedInterface(diamond.WithSender(context.Background(), owner), selector.MustParse("0x36372b07"), true)
	}()

	var e events.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, events.EventInterfaceChanged, e.Type)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Options{Metrics: metrics.NewCollector("diamond")})
	s.addFacet(t)

	rec := s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "diamond_cut_total")
}

func TestCut_ForgedSenderHeader(t *testing.T) {
	s := newTestServer(t, Options{})
	pwn := selector.FromSignature("pwn()")

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]interface{}{
		"cuts": []map[string]interface{}{{
			"facet":     "0x" + s.facet.StringLE(),
			"action":    "add",
			"selectors": []string{"pwn()"},
		}},
	}))
	req := httptest.NewRequest(http.MethodPost, "/cut", &buf)
	req.Header.Set(HeaderSender, "0x"+owner.StringLE())
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Equal(t, util.Uint160{}, s.d.FacetAddress(context.Background(), pwn))
}

func TestCut_TrustedSenderHeader(t *testing.T) {
	s := newTestServer(t, Options{TrustSenderHeader: true})

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(map[string]interface{}{
		"cuts": []map[string]interface{}{{
			"facet":     "0x" + s.facet.StringLE(),
			"action":    "add",
			"selectors": []string{"getValue()"},
		}},
	}))
	req := httptest.NewRequest(http.MethodPost, "/cut", &buf)
	req.Header.Set(HeaderSender, "0x"+owner.StringLE())
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, s.facet, s.d.FacetAddress(context.Background(), getValue))
}

func TestAuth_RejectsInvalidTokens(t *testing.T) {
	s := newTestServer(t, Options{})
	otherKey := mustKey()
	subject := "0x" + owner.StringLE()

	tests := []struct {
		name   string
		header string
	}{
		{"not bearer", "Basic b3duZXI6cGFzcw=="},
		{"garbage", "Bearer not-a-token"},
		{"wrong key", "Bearer " + signToken(t, jwt.SigningMethodRS256, otherKey, subject, time.Hour)},
		{"hmac", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("secret"), subject, time.Hour)},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodRS256, signingKey, subject, -time.Minute)},
		{"bad subject", "Bearer " + signToken(t, jwt.SigningMethodRS256, signingKey, "owner", time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/cut", strings.NewReader(`{"cuts":[]}`))
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			s.handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			var body map[string]string
			decode(t, rec, &body)
			assert.Equal(t, "unauthenticated", body["kind"])
		})
	}
}

func TestAuth_NoKeyConfigured(t *testing.T) {
	host := diamond.NewHost()
	d, err := diamond.New(context.Background(), diamond.Config{
		Address: diamond.HandleFor("diamond"),
		Owner:   owner,
		Env:     host,
	})
	require.NoError(t, err)
	h := NewHandler(d, Options{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", bearer(t, owner))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCall_RotatingSenderHeaderStaysLimited(t *testing.T) {
	s := newTestServer(t, Options{CallRate: 1, CallBurst: 2})
	s.addFacet(t)

	body := hexutil.Encode(getValue[:])
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(`{"calldata":"`+body+`"}`))
		req.Header.Set(HeaderSender, "0x"+diamond.HandleFor(fmt.Sprintf("rotating-%d", i)).StringLE())
		rec := httptest.NewRecorder()
		s.handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestBadSender(t *testing.T) {
	s := newTestServer(t, Options{TrustSenderHeader: true})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderSender, "garbage")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
