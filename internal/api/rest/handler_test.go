package rest_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-marketplace/internal/api/middleware"
	"github.com/feral-file/ff-marketplace/internal/api/rest"
	"github.com/feral-file/ff-marketplace/internal/api/rest/dto"
	apierrors "github.com/feral-file/ff-marketplace/internal/api/shared/errors"
	"github.com/feral-file/ff-marketplace/internal/domain"
	"github.com/feral-file/ff-marketplace/internal/logger"
	"github.com/feral-file/ff-marketplace/internal/mocks"
	"github.com/feral-file/ff-marketplace/internal/payment"
	"github.com/feral-file/ff-marketplace/internal/projection"
	"github.com/feral-file/ff-marketplace/internal/refresh"
	"github.com/feral-file/ff-marketplace/internal/upload"
	"github.com/feral-file/ff-marketplace/internal/view"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
)

var signingKey *rsa.PrivateKey

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	gin.SetMode(gin.TestMode)

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	signingKey = key

	os.Exit(m.Run())
}

func publicKeyPEM(t *testing.T) string {
	der, err := x509.MarshalPKIXPublicKey(&signingKey.PublicKey)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func bearer(t *testing.T, subject string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString(signingKey)
	require.NoError(t, err)
	return "Bearer " + signed
}

type testHandlerMocks struct {
	ctrl        *gomock.Controller
	ledger      *mocks.MockLedger
	coordinator *mocks.MockCoordinator
	uploader    *mocks.MockUploader
	store       *mocks.MockStore
	gallery     *projection.Gallery
	book        *payment.Book
	router      *gin.Engine
}

func setupTestHandler(t *testing.T) *testHandlerMocks {
	ctrl := gomock.NewController(t)

	tm := &testHandlerMocks{
		ctrl:        ctrl,
		ledger:      mocks.NewMockLedger(ctrl),
		coordinator: mocks.NewMockCoordinator(ctrl),
		uploader:    mocks.NewMockUploader(ctrl),
		store:       mocks.NewMockStore(ctrl),
		gallery:     projection.NewGallery(projection.Filter{}),
		book:        payment.NewBook(),
	}

	handler := rest.NewHandler(rest.Services{
		Reader:      tm.ledger,
		Ledger:      tm.ledger,
		Gallery:     tm.gallery,
		Coordinator: tm.coordinator,
		Uploader:    tm.uploader,
		Events:      tm.store,
		Proceeds:    tm.book,
	})
	tm.router = gin.New()
	rest.SetupRoutes(tm.router, handler, middleware.AuthConfig{JWTPublicKey: publicKeyPEM(t)})
	return tm
}

func tearDownTestHandler(tm *testHandlerMocks) {
	tm.ctrl.Finish()
}

func (tm *testHandlerMocks) do(method, path, auth string, body []byte, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	tm.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

type amountMatcher struct{ want *big.Int }

func (m amountMatcher) Matches(x interface{}) bool {
	v, ok := x.(*big.Int)
	return ok && v != nil && v.Cmp(m.want) == 0
}

func (m amountMatcher) String() string {
	return "amount " + m.want.String()
}

func amountEq(v int64) gomock.Matcher {
	return amountMatcher{want: big.NewInt(v)}
}

func galleryView() *view.View {
	return view.NewView([]domain.Item{
		{TokenID: 0, Owner: alice, Name: "Sunset", Description: "warm", Image: "ipfs://img0", Price: big.NewInt(0)},
		{TokenID: 1, Owner: bob, Name: "Sunrise", Description: "cold", Image: "ipfs://img1", Price: big.NewInt(500)},
		{TokenID: 2, Owner: alice, Name: "Harbor", Description: "blue", Image: "ipfs://img2", Price: big.NewInt(0)},
	}, 3, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestHandler_GetToken(t *testing.T) {
	t.Run("joins ledger state with the view item", func(t *testing.T) {
		tm := setupTestHandler(t)
		defer tearDownTestHandler(tm)
		tm.gallery.SetView(galleryView())

		tm.ledger.EXPECT().OwnerOf(gomock.Any(), domain.TokenID(1)).Return(bob, nil)
		tm.ledger.EXPECT().TokenURI(gomock.Any(), domain.TokenID(1)).Return("ipfs://meta1", nil)
		tm.ledger.EXPECT().Listings(gomock.Any(), domain.TokenID(1)).Return(big.NewInt(500), nil)

		w := tm.do(http.MethodGet, "/api/v1/tokens/1", "", nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		resp := decode[dto.TokenResponse](t, w)
		assert.Equal(t, "1", resp.TokenID)
		assert.Equal(t, bob, resp.Owner)
		assert.Equal(t, "ipfs://meta1", resp.TokenURI)
		assert.True(t, resp.Listed)
		assert.Equal(t, "500", resp.Price)
		require.NotNil(t, resp.Name)
		assert.Equal(t, "Sunrise", *resp.Name)
	})

	t.Run("not yet materialized", func(t *testing.T) {
		tm := setupTestHandler(t)
		defer tearDownTestHandler(tm)

		tm.ledger.EXPECT().OwnerOf(gomock.Any(), domain.TokenID(7)).Return(alice, nil)
		tm.ledger.EXPECT().TokenURI(gomock.Any(), domain.TokenID(7)).Return("ipfs://meta7", nil)
		tm.ledger.EXPECT().Listings(gomock.Any(), domain.TokenID(7)).Return(big.NewInt(0), nil)

		w := tm.do(http.MethodGet, "/api/v1/tokens/7", "", nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		resp := decode[dto.TokenResponse](t, w)
		assert.False(t, resp.Listed)
		assert.Equal(t, "0", resp.Price)
		assert.Nil(t, resp.Name)
	})

	t.Run("unknown token", func(t *testing.T) {
		tm := setupTestHandler(t)
		defer tearDownTestHandler(tm)

		tm.ledger.EXPECT().OwnerOf(gomock.Any(), domain.TokenID(99)).Return("", domain.ErrNotFound)

		w := tm.do(http.MethodGet, "/api/v1/tokens/99", "", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, apierrors.ErrCodeNotFound, decode[apierrors.APIError](t, w).Code)
	})

	t.Run("invalid id", func(t *testing.T) {
		tm := setupTestHandler(t)
		defer tearDownTestHandler(tm)

		w := tm.do(http.MethodGet, "/api/v1/tokens/-1", "", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandler_GetSupply(t *testing.T) {
	tm := setupTestHandler(t)
	defer tearDownTestHandler(tm)

	tm.ledger.EXPECT().TotalSupply(gomock.Any()).Return(uint64(3), nil)

	w := tm.do(http.MethodGet, "/api/v1/supply", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uint64(3), decode[dto.SupplyResponse](t, w).TotalSupply)
}

func TestHandler_GetGallery(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		auth     string
		status   int
		expected []string
	}{
		{name: "all", query: "", status: http.StatusOK, expected: []string{"0", "1", "2"}},
		{name: "search ignores case", query: "?search=SUN", status: http.StatusOK, expected: []string{"0", "1"}},
		{name: "mine by owner", query: "?mode=mine&owner=" + alice, status: http.StatusOK, expected: []string{"0", "2"}},
		{name: "mine by caller", query: "?mode=mine", auth: bob, status: http.StatusOK, expected: []string{"1"}},
		{name: "mine then search", query: "?mode=mine&search=har&owner=" + alice, status: http.StatusOK, expected: []string{"2"}},
		{name: "mine anonymous", query: "?mode=mine", status: http.StatusBadRequest},
		{name: "unknown mode", query: "?mode=theirs", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := setupTestHandler(t)
			defer tearDownTestHandler(tm)
			tm.gallery.SetView(galleryView())
			tm.coordinator.EXPECT().State().Return(refresh.Idle).AnyTimes()

			auth := ""
			if tt.auth != "" {
				auth = bearer(t, tt.auth)
			}
			w := tm.do(http.MethodGet, "/api/v1/gallery"+tt.query, auth, nil, "")
			require.Equal(t, tt.status, w.Code)
			if tt.status != http.StatusOK {
				return
			}

			resp := decode[dto.GalleryResponse](t, w)
			ids := make([]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				ids = append(ids, item.TokenID)
			}
			assert.Equal(t, tt.expected, ids)
			assert.Equal(t, len(tt.expected), resp.Total)
			assert.Equal(t, uint64(3), resp.Supply)
			assert.Equal(t, "idle", resp.State)
			assert.NotNil(t, resp.BuiltAt)
		})
	}
}

func TestHandler_RefreshGallery(t *testing.T) {
	tm := setupTestHandler(t)
	defer tearDownTestHandler(tm)

	w := tm.do(http.MethodPost, "/api/v1/gallery/refresh", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	tm.coordinator.EXPECT().RequestRefresh()
	tm.coordinator.EXPECT().State().Return(refresh.Refreshing)

	w = tm.do(http.MethodPost, "/api/v1/gallery/refresh", bearer(t, alice), nil, "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "refreshing", decode[dto.RefreshResponse](t, w).State)
}

func TestHandler_Mint(t *testing.T) {
	t.Run("mints to the caller", func(t *testing.T) {
		tm := setupTestHandler(t)
		defer tearDownTestHandler(tm)

		tm.ledger.EXPECT().Mint(gomock.Any(), alice, "ipfs://meta").Return(domain.TokenID(4), nil)

		w := tm.do(http.MethodPost, "/api/v1/tokens", bearer(t, alice), []byte(`{"token_uri":"ipfs://meta"}`), "application/json")
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "4", decode[dto.MintResponse](t, w).TokenID)
	})

	t.Run("requires authentication", func(t *testing.T) {
		tm := setupTestHandler(t)
		defer tearDownTestHandler(tm)

		w := tm.do(http.MethodPost, "/api/v1/tokens", "", []byte(`{"token_uri":"ipfs://meta"}`), "application/json")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing descriptor", func(t *testing.T) {
		tm := setupTestHandler(t)
		defer tearDownTestHandler(tm)

		w := tm.do(http.MethodPost, "/api/v1/tokens", bearer(t, alice), []byte(`{}`), "application/json")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})
}

func TestHandler_Transitions(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		expect func(tm *testHandlerMocks)
		status int
		code   apierrors.ErrorCode
	}{
		{
			name: "list",
			path: "/api/v1/tokens/0/list",
			body: `{"price":"1000"}`,
			expect: func(tm *testHandlerMocks) {
				tm.ledger.EXPECT().List(gomock.Any(), alice, domain.TokenID(0), amountEq(1000)).Return(nil)
			},
			status: http.StatusNoContent,
		},
		{
			name: "list by non owner",
			path: "/api/v1/tokens/1/list",
			body: `{"price":"1000"}`,
			expect: func(tm *testHandlerMocks) {
				tm.ledger.EXPECT().List(gomock.Any(), alice, domain.TokenID(1), amountEq(1000)).Return(domain.ErrNotOwner)
			},
			status: http.StatusForbidden,
			code:   apierrors.ErrCodeForbidden,
		},
		{
			name: "list with zero price",
			path: "/api/v1/tokens/0/list",
			body: `{"price":"0"}`,
			expect: func(tm *testHandlerMocks) {
				tm.ledger.EXPECT().List(gomock.Any(), alice, domain.TokenID(0), amountEq(0)).Return(domain.ErrInvalidInput)
			},
			status: http.StatusBadRequest,
			code:   apierrors.ErrCodeBadRequest,
		},
		{
			name:   "list with malformed price",
			path:   "/api/v1/tokens/0/list",
			body:   `{"price":"1.5"}`,
			status: http.StatusBadRequest,
			code:   apierrors.ErrCodeBadRequest,
		},
		{
			name: "cancel unlisted",
			path: "/api/v1/tokens/0/cancel",
			expect: func(tm *testHandlerMocks) {
				tm.ledger.EXPECT().Cancel(gomock.Any(), alice, domain.TokenID(0)).Return(domain.ErrNotListed)
			},
			status: http.StatusConflict,
			code:   apierrors.ErrCodeConflict,
		},
		{
			name: "buy",
			path: "/api/v1/tokens/1/buy",
			body: `{"value":"500"}`,
			expect: func(tm *testHandlerMocks) {
				tm.ledger.EXPECT().Buy(gomock.Any(), alice, domain.TokenID(1), amountEq(500)).Return(nil)
			},
			status: http.StatusNoContent,
		},
		{
			name: "buy with wrong value",
			path: "/api/v1/tokens/1/buy",
			body: `{"value":"499"}`,
			expect: func(tm *testHandlerMocks) {
				tm.ledger.EXPECT().Buy(gomock.Any(), alice, domain.TokenID(1), amountEq(499)).Return(domain.ErrWrongValue)
			},
			status: http.StatusPaymentRequired,
			code:   apierrors.ErrCodePaymentRequired,
		},
		{
			name: "buy when payment forwarding fails",
			path: "/api/v1/tokens/1/buy",
			body: `{"value":"500"}`,
			expect: func(tm *testHandlerMocks) {
				tm.ledger.EXPECT().Buy(gomock.Any(), alice, domain.TokenID(1), amountEq(500)).Return(domain.ErrPaymentFailed)
			},
			status: http.StatusBadGateway,
			code:   apierrors.ErrCodeServiceError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := setupTestHandler(t)
			defer tearDownTestHandler(tm)
			if tt.expect != nil {
				tt.expect(tm)
			}

			var body []byte
			if tt.body != "" {
				body = []byte(tt.body)
			}
			w := tm.do(http.MethodPost, tt.path, bearer(t, alice), body, "application/json")
			require.Equal(t, tt.status, w.Code)
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[apierrors.APIError](t, w).Code)
			}
		})
	}
}

func multipartBody(t *testing.T, fields map[string]string, image []byte) ([]byte, string) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if image != nil {
		part, err := w.CreateFormFile("image", "art.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes(), w.FormDataContentType()
}

func TestHandler_Upload(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")

	t.Run("pins and returns the descriptor", func(t *testing.T) {
		tm := setupTestHandler(t)
		defer tearDownTestHandler(tm)

		tm.uploader.EXPECT().Upload(gomock.Any(), upload.Request{
			Name:        "Sunset",
			Description: "warm",
			Filename:    "art.png",
			Image:       png,
		}).Return("ipfs://QmMeta", nil)

		body, contentType := multipartBody(t, map[string]string{"name": "Sunset", "description": "warm"}, png)
		w := tm.do(http.MethodPost, "/api/v1/upload", bearer(t, alice), body, contentType)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "ipfs://QmMeta", decode[dto.UploadResponse](t, w).TokenURI)
	})

	t.Run("missing image", func(t *testing.T) {
		tm := setupTestHandler(t)
		defer tearDownTestHandler(tm)

		body, contentType := multipartBody(t, map[string]string{"name": "Sunset", "description": "warm"}, nil)
		w := tm.do(http.MethodPost, "/api/v1/upload", bearer(t, alice), body, contentType)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("pinning fails", func(t *testing.T) {
		tm := setupTestHandler(t)
		defer tearDownTestHandler(tm)

		tm.uploader.EXPECT().Upload(gomock.Any(), gomock.Any()).Return("", domain.ErrUploadFailed)

		body, contentType := multipartBody(t, map[string]string{"name": "Sunset", "description": "warm"}, png)
		w := tm.do(http.MethodPost, "/api/v1/upload", bearer(t, alice), body, contentType)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestHandler_GetTokenEvents(t *testing.T) {
	tm := setupTestHandler(t)
	defer tearDownTestHandler(tm)

	from, to := domain.ETHEREUM_ZERO_ADDRESS, alice
	tm.store.EXPECT().GetTokenEvents(gomock.Any(), domain.TokenID(0), 2, uint64(0)).Return([]*domain.LedgerEvent{
		{ID: "e1", EventType: domain.EventTypeTransfer, FromAddress: &from, ToAddress: &to, BlockNumber: 1},
		{ID: "e2", EventType: domain.EventTypeListed, Price: "10", BlockNumber: 2},
	}, uint64(5), nil)

	w := tm.do(http.MethodGet, "/api/v1/tokens/0/events?limit=2", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[dto.EventsResponse](t, w)
	assert.Equal(t, uint64(5), resp.Total)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "transfer", resp.Events[0].EventType)
	assert.Equal(t, "10", resp.Events[1].Price)

	w = tm.do(http.MethodGet, "/api/v1/tokens/0/events?limit=1000", "", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandler_Proceeds(t *testing.T) {
	tm := setupTestHandler(t)
	defer tearDownTestHandler(tm)

	require.NoError(t, tm.book.Forward(t.Context(), bob, alice, big.NewInt(700)))

	w := tm.do(http.MethodGet, "/api/v1/proceeds", bearer(t, alice), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "700", decode[dto.ProceedsResponse](t, w).Amount)

	w = tm.do(http.MethodPost, "/api/v1/proceeds/withdraw", bearer(t, alice), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "700", decode[dto.ProceedsResponse](t, w).Amount)

	w = tm.do(http.MethodGet, "/api/v1/proceeds", bearer(t, alice), nil, "")
	assert.Equal(t, "0", decode[dto.ProceedsResponse](t, w).Amount)
}

func TestHandler_ReadOnlyServer(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	router := gin.New()
	rest.SetupRoutes(router, rest.NewHandler(rest.Services{
		Reader:  mocks.NewMockLedgerReader(ctrl),
		Gallery: projection.NewGallery(projection.Filter{}),
	}), middleware.AuthConfig{JWTPublicKey: publicKeyPEM(t)})

	for _, path := range []string{"/api/v1/tokens", "/api/v1/tokens/0/buy", "/api/v1/upload", "/api/v1/gallery/refresh", "/api/v1/proceeds/withdraw"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		req.Header.Set("Authorization", bearer(t, alice))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotImplemented, w.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
