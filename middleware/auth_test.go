package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "unit-test-secret"

func authedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", Auth(testSecret), func(c *gin.Context) {
		uid, ok := UserID(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no user id in context"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": uid})
	})
	return r
}

func sign(t *testing.T, secret string, subject string, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: subject, ExpiresAt: jwt.NewNumericDate(exp)}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return s
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	r := authedRouter()
	token := sign(t, testSecret, strconv.Itoa(7), time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAuthAcceptsQueryToken(t *testing.T) {
	r := authedRouter()
	token := sign(t, testSecret, "7", time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/whoami?token="+token, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 via query token, got %d", w.Code)
	}
}

func TestAuthRejections(t *testing.T) {
	r := authedRouter()
	cases := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong secret", sign(t, "other-secret", "7", time.Now().Add(time.Hour))},
		{"expired", sign(t, testSecret, "7", time.Now().Add(-time.Hour))},
		{"non-numeric subject", sign(t, testSecret, "alice", time.Now().Add(time.Hour))},
		{"zero subject", sign(t, testSecret, "0", time.Now().Add(time.Hour))},
		{"garbage", "not.a.jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.token != "" {
				req.Header.Set("Authorization", "Bearer "+tc.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}
