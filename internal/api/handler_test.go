package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Wafaqih/rekbernexo/internal/fee"
	"github.com/Wafaqih/rekbernexo/internal/models"
	"github.com/Wafaqih/rekbernexo/internal/service"
	"github.com/Wafaqih/rekbernexo/internal/storage"
	"github.com/Wafaqih/rekbernexo/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret       = "test-secret"
	sellerID   int64 = 1
	buyerID    int64 = 2
	strangerID int64 = 3
	adminID    int64 = 900
)

// pngHeader is enough of a PNG for content sniffing
var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	router *gin.Engine
	store  *store.Store
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.NewStore(store.Config{Driver: store.DriverSQLite, URL: ":memory:", OperationTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := service.NewDealService(st, nil, fee.DefaultSchedule(), service.Options{AdminIDs: []int64{adminID}})
	if opts.JWTSecret == "" {
		opts.JWTSecret = testSecret
	}
	if opts.RateLimitPerMinute == 0 {
		opts.RateLimitPerMinute = 1000
	}
	if opts.Checks == nil {
		opts.Checks = map[string]Pinger{"database": st}
	}

	router := gin.New()
	NewHandler(svc, opts).SetupRoutes(router)
	return &testServer{router: router, store: st}
}

func token(t *testing.T, subject string, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, actor int64, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != 0 {
		req.Header.Set("Authorization", "Bearer "+token(t, strconv.FormatInt(actor, 10), jwt.SigningMethodHS256, []byte(testSecret)))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) createDeal(t *testing.T) string {
	t.Helper()
	w := s.do(t, sellerID, http.MethodPost, "/api/v1/deals", gin.H{
		"role": "SELLER", "title": "Item X", "price": 100000, "fee_payer": "BUYER",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode(t, w)["deal_id"].(string)
}

func TestHealthAndReadiness(t *testing.T) {
	s := newTestServer(t, Options{})

	w := s.do(t, 0, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, 0, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	down := newTestServer(t, Options{Checks: map[string]Pinger{
		"redis": pingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	}})
	w = down.do(t, 0, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	w = s.do(t, 0, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t, Options{})

	w := s.do(t, 0, http.MethodGet, "/api/v1/deals", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	cases := map[string]string{
		"wrong secret":    token(t, "2", jwt.SigningMethodHS256, []byte("other")),
		"non numeric sub": token(t, "alice", jwt.SigningMethodHS256, []byte(testSecret)),
		"wrong algorithm": token(t, "2", jwt.SigningMethodHS512, []byte(testSecret)),
		"garbage":         "not-a-token",
	}
	for name, raw := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/deals", nil)
		req.Header.Set("Authorization", "Bearer "+raw)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
	}
}

func TestDealLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, Options{})
	id := s.createDeal(t)
	base := "/api/v1/deals/" + id

	w := s.do(t, buyerID, http.MethodPost, base+"/join", gin.H{"role": "BUYER"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusPendingFunding, decode(t, w)["status"])

	w = s.do(t, buyerID, http.MethodPost, base+"/transferred", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, buyerID, http.MethodPost, base+"/proof", gin.H{"proof_ref": "chat-file-123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, buyerID, http.MethodPost, base+"/verify", gin.H{"approve": true})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, adminID, http.MethodPost, base+"/verify", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, adminID, http.MethodPost, base+"/verify", gin.H{"approve": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusFunded, decode(t, w)["status"])

	w = s.do(t, sellerID, http.MethodPost, base+"/ship", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, buyerID, http.MethodPost, base+"/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, sellerID, http.MethodPost, base+"/payout", gin.H{
		"method": "BANK", "bank_name": "BCA", "account_number": "1234567890", "account_name": "Budi",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, adminID, http.MethodGet, base+"/payout", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "BANK", decode(t, w)["method"])

	w = s.do(t, adminID, http.MethodPost, base+"/payout/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, models.StatusCompleted, body["status"])
	assert.Equal(t, float64(105000), body["buyer_total"])
	assert.Equal(t, float64(100000), body["seller_receive"])
	assert.Equal(t, false, body["already_done"])

	w = s.do(t, buyerID, http.MethodPost, base+"/rating", gin.H{"score": 5, "comment": "smooth"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, buyerID, http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["entries"], 9)

	w = s.do(t, buyerID, http.MethodGet, "/api/v1/deals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["deals"], 1)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, Options{})
	id := s.createDeal(t)
	base := "/api/v1/deals/" + id

	w := s.do(t, buyerID, http.MethodGet, "/api/v1/deals/RB-missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, sellerID, http.MethodPost, base+"/join", gin.H{"role": "BUYER"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["already_done"])
	assert.Equal(t, models.StatusPendingJoin, body["status"])

	w = s.do(t, sellerID, http.MethodPost, base+"/ship", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, models.StatusPendingJoin, decode(t, w)["status"])

	w = s.do(t, sellerID, http.MethodPost, "/api/v1/deals", gin.H{
		"role": "SELLER", "title": "Item X", "price": 10, "fee_payer": "BUYER",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, buyerID, http.MethodPost, base+"/join", gin.H{"role": "BUYER"})
	require.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, strangerID, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, sellerID, http.MethodGet, base+"/payout", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, s.store.Close())
	w = s.do(t, sellerID, http.MethodPost, base+"/cancel", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCancelFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, Options{})
	id := s.createDeal(t)
	base := "/api/v1/deals/" + id

	require.Equal(t, http.StatusOK, s.do(t, buyerID, http.MethodPost, base+"/join", gin.H{"role": "BUYER"}).Code)
	require.Equal(t, http.StatusOK, s.do(t, buyerID, http.MethodPost, base+"/cancel/request", nil).Code)

	w := s.do(t, buyerID, http.MethodPost, base+"/cancel/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, sellerID, http.MethodPost, base+"/cancel/reject", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusPendingFunding, decode(t, w)["status"])

	w = s.do(t, sellerID, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusCancelled, decode(t, w)["status"])
}

func TestDisputeOverHTTP(t *testing.T) {
	s := newTestServer(t, Options{})
	id := s.createDeal(t)
	base := "/api/v1/deals/" + id

	require.Equal(t, http.StatusOK, s.do(t, buyerID, http.MethodPost, base+"/join", gin.H{"role": "BUYER"}).Code)
	require.Equal(t, http.StatusOK, s.do(t, buyerID, http.MethodPost, base+"/transferred", nil).Code)
	require.Equal(t, http.StatusOK, s.do(t, buyerID, http.MethodPost, base+"/proof", gin.H{"proof_ref": "r"}).Code)
	require.Equal(t, http.StatusOK, s.do(t, adminID, http.MethodPost, base+"/verify", gin.H{"approve": true}).Code)

	w := s.do(t, buyerID, http.MethodPost, base+"/dispute", gin.H{"reason": "seller went silent"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, adminID, http.MethodPost, base+"/dispute/resolve", gin.H{"outcome": "REFUND", "note": "no shipment"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusRefunded, decode(t, w)["status"])

	w = s.do(t, sellerID, http.MethodGet, base+"/dispute", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "RESOLVED", decode(t, w)["status"])
}

func multipartProof(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestProofUpload(t *testing.T) {
	proofs, err := storage.NewProofStorage(t.TempDir(), 1)
	require.NoError(t, err)
	s := newTestServer(t, Options{Proofs: proofs})
	id := s.createDeal(t)
	base := "/api/v1/deals/" + id

	require.Equal(t, http.StatusOK, s.do(t, buyerID, http.MethodPost, base+"/join", gin.H{"role": "BUYER"}).Code)
	require.Equal(t, http.StatusOK, s.do(t, buyerID, http.MethodPost, base+"/transferred", nil).Code)

	upload := func(actor int64, name string, content []byte) *httptest.ResponseRecorder {
		body, contentType := multipartProof(t, name, content)
		req := httptest.NewRequest(http.MethodPost, base+"/proof", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+token(t, strconv.FormatInt(actor, 10), jwt.SigningMethodHS256, []byte(testSecret)))
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		return w
	}

	w := upload(buyerID, "notes.txt", []byte("just some text, not an image"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = upload(sellerID, "receipt.png", pngHeader)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = upload(buyerID, "receipt.png", pngHeader)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StatusWaitingVerification, decode(t, w)["status"])

	deal, err := s.store.GetDeal(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, deal.ProofRef)
	assert.True(t, strings.HasPrefix(*deal.ProofRef, id+"/"))
	assert.True(t, strings.HasSuffix(*deal.ProofRef, ".png"))
}

func TestRateLimitPerActor(t *testing.T) {
	s := newTestServer(t, Options{RateLimitPerMinute: 2})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, s.do(t, buyerID, http.MethodGet, "/api/v1/deals", nil).Code)
	}
	w := s.do(t, buyerID, http.MethodGet, "/api/v1/deals", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	assert.Equal(t, http.StatusOK, s.do(t, sellerID, http.MethodGet, "/api/v1/deals", nil).Code)
}
