package handlers

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"

	"github.com/vitrinai/backend/internal/catalog"
	"github.com/vitrinai/backend/internal/models"
	"github.com/vitrinai/backend/internal/services"
)

const testSecret = "s3cret"

func newWebhookTest(t *testing.T, rdb *redis.Client) (*WebhookHandler, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	handler := NewWebhookHandler(services.NewCreditService(db), catalog.Default(), rdb, testSecret)
	return handler, mock, func() { db.Close() }
}

func postWebhook(handler *WebhookHandler, key, contentType, body string) *httptest.ResponseRecorder {
	target := "/api/v1/webhooks/gumroad"
	if key != "" {
		target += "?key=" + key
	}
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	handler.HandleGumroad(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func expectFullPurchase(mock sqlmock.Sqlmock, eventKey, email, slug string, credits int64, plan string) {
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processed_webhooks").
		WithArgs(eventKey, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT id, email, credits_balance").
		WithArgs(email).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), email, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT id, email, credits_balance").
		WithArgs(email).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "credits_balance", "credits_expire_at", "plan_code", "created_at", "updated_at"}).
			AddRow("user-1", email, int64(0), nil, nil, time.Now(), time.Now()))
	mock.ExpectExec("SET credits_balance = \\$1, credits_expire_at").
		WithArgs(credits, sqlmock.AnyArg(), plan, sqlmock.AnyArg(), "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO credit_ledger").
		WithArgs("user-1", credits, models.ReasonGumroadPurchase, slug, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

func TestWebhookHandler_MethodGate(t *testing.T) {
	handler, mock, done := newWebhookTest(t, nil)
	defer done()

	t.Run("GET answers with diagnostics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/gumroad", nil)
		w := httptest.NewRecorder()
		handler.HandleGumroad(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "active", body["status"])
	})

	t.Run("other methods rejected", func(t *testing.T) {
		for _, method := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch} {
			req := httptest.NewRequest(method, "/api/v1/webhooks/gumroad", nil)
			w := httptest.NewRecorder()
			handler.HandleGumroad(w, req)
			assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
		}
	})

	// No store access for any of the above.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookHandler_Authorization(t *testing.T) {
	handler, mock, done := newWebhookTest(t, nil)
	defer done()

	t.Run("missing key", func(t *testing.T) {
		w := postWebhook(handler, "", "application/json", `{"email":"a@b.test","permalink":"temelpaket"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		w := postWebhook(handler, "wrong", "application/json", `{"email":"a@b.test","permalink":"temelpaket"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	// Zero side effects regardless of body content.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookHandler_Validation(t *testing.T) {
	handler, mock, done := newWebhookTest(t, nil)
	defer done()

	t.Run("missing email", func(t *testing.T) {
		w := postWebhook(handler, testSecret, "application/json", `{"permalink":"temelpaket"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing permalink", func(t *testing.T) {
		w := postWebhook(handler, testSecret, "application/json", `{"email":"a@b.test"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("garbage body yields missing email", func(t *testing.T) {
		w := postWebhook(handler, testSecret, "application/json", `%%%`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown product acknowledged without side effects", func(t *testing.T) {
		w := postWebhook(handler, testSecret, "application/json",
			`{"email":"a@b.test","permalink":"someoneelsesproduct","sale_id":"x"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ignored", decodeBody(t, w)["status"])
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookHandler_Purchase(t *testing.T) {
	t.Run("form-encoded purchase applied", func(t *testing.T) {
		handler, mock, done := newWebhookTest(t, nil)
		defer done()

		expectFullPurchase(mock, "abc123", "buyer@test.com", "standartpaket", 180, models.PlanStandard)

		w := postWebhook(handler, testSecret, "application/x-www-form-urlencoded",
			"email=buyer%40test.com&permalink=standartpaket&sale_id=abc123")

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "buyer@test.com", body["email"])
		assert.Equal(t, float64(180), body["credits"])
		assert.Equal(t, models.PlanStandard, body["plan"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("slug extracted from short_url", func(t *testing.T) {
		handler, mock, done := newWebhookTest(t, nil)
		defer done()

		expectFullPurchase(mock, "sale-77", "buyer@test.com", "temelpaket", 60, models.PlanBasic)

		w := postWebhook(handler, testSecret, "application/json",
			`{"email":"buyer@test.com","short_url":"https://x.test/l/temelpaket?x=1","sale_id":"sale-77"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(60), decodeBody(t, w)["credits"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate delivery acknowledged as already processed", func(t *testing.T) {
		handler, mock, done := newWebhookTest(t, nil)
		defer done()

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO processed_webhooks").
			WithArgs("abc123", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		w := postWebhook(handler, testSecret, "application/json",
			`{"email":"buyer@test.com","permalink":"standartpaket","sale_id":"abc123"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "already_processed", decodeBody(t, w)["status"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("store failure surfaces as 500", func(t *testing.T) {
		handler, mock, done := newWebhookTest(t, nil)
		defer done()

		mock.ExpectBegin().WillReturnError(fmt.Errorf("connection refused"))

		w := postWebhook(handler, testSecret, "application/json",
			`{"email":"buyer@test.com","permalink":"standartpaket","sale_id":"abc123"}`)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWebhookHandler_RedisFastPath(t *testing.T) {
	t.Run("cached duplicate short-circuits the store", func(t *testing.T) {
		rdb, rmock := redismock.NewClientMock()
		handler, mock, done := newWebhookTest(t, rdb)
		defer done()

		rmock.ExpectGet("webhook:processed:abc123").SetVal("1")

		w := postWebhook(handler, testSecret, "application/json",
			`{"email":"buyer@test.com","permalink":"standartpaket","sale_id":"abc123"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "already_processed", decodeBody(t, w)["status"])
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, rmock.ExpectationsWereMet())
	})

	t.Run("successful purchase is cached", func(t *testing.T) {
		rdb, rmock := redismock.NewClientMock()
		handler, mock, done := newWebhookTest(t, rdb)
		defer done()

		rmock.ExpectGet("webhook:processed:abc123").RedisNil()
		expectFullPurchase(mock, "abc123", "buyer@test.com", "standartpaket", 180, models.PlanStandard)
		rmock.ExpectSet("webhook:processed:abc123", "1", 30*24*time.Hour).SetVal("OK")

		w := postWebhook(handler, testSecret, "application/json",
			`{"email":"buyer@test.com","permalink":"standartpaket","sale_id":"abc123"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
		assert.NoError(t, rmock.ExpectationsWereMet())
	})
}
