package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"newsrank/internal/apperrors"
	"newsrank/internal/logging"
	"newsrank/internal/services"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLoader map[uint]services.Actor

func (f fakeLoader) Actor(_ context.Context, userID uint) (services.Actor, error) {
	a, ok := f[userID]
	if !ok {
		return services.Actor{}, apperrors.UserNotFound()
	}
	return a, nil
}

// flakyLoader 在 down 为 true 时模拟数据库故障
type flakyLoader struct {
	down bool
}

func (f *flakyLoader) Actor(_ context.Context, userID uint) (services.Actor, error) {
	if f.down {
		return services.Actor{}, errors.New("connection refused")
	}
	return services.Actor{ID: userID, Karma: 5}, nil
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	var seen string
	r.GET("/", func(c *gin.Context) {
		seen, _ = logging.RequestID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-1")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-1", seen)
	assert.Equal(t, "upstream-1", rec.Header().Get(RequestIDHeader))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestID(), RequestLogger(logging.New(&buf, "info", "json")))
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(RequestIDHeader, "req-9")
	r.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "/boom", line["path"])
	assert.EqualValues(t, 500, line["status"])
	assert.Equal(t, "req-9", line["request_id"])
}

func TestRateLimit(t *testing.T) {
	l := NewIPRateLimiter(0.001, 1)
	r := gin.New()
	r.Use(RateLimit(l))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	rec := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"rate_limited"`)

	// 不同 IP 各自一个桶
	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code)
}

func newSessionRouter(loader ActorLoader) *gin.Engine {
	r := gin.New()
	r.Use(sessions.Sessions("test", cookie.NewStore([]byte("secret"))))
	r.POST("/login/:id", func(c *gin.Context) {
		s := sessions.Default(c)
		switch c.Param("id") {
		case "1":
			s.Set(SessionUserKey, uint(1))
		default:
			s.Set(SessionUserKey, uint(2))
		}
		_ = s.Save()
		c.Status(http.StatusOK)
	})

	api := r.Group("/api", LoadUser(loader))
	api.GET("/public", func(c *gin.Context) {
		_, ok := CurrentActor(c)
		c.JSON(http.StatusOK, gin.H{"logged_in": ok})
	})
	api.GET("/private", AuthRequired(), func(c *gin.Context) {
		actor, _ := CurrentActor(c)
		c.JSON(http.StatusOK, gin.H{"id": actor.ID, "karma": actor.Karma})
	})
	return r
}

func login(t *testing.T, r *gin.Engine, id string) []*http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/login/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Result().Cookies()
}

func get(r *gin.Engine, path string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	r := newSessionRouter(fakeLoader{1: {ID: 1, Karma: 42}})

	t.Run("anonymous", func(t *testing.T) {
		rec := get(r, "/api/public", nil)
		assert.JSONEq(t, `{"logged_in":false}`, rec.Body.String())

		rec = get(r, "/api/private", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), `"reason":"login_required"`)
	})

	t.Run("logged in", func(t *testing.T) {
		cookies := login(t, r, "1")
		rec := get(r, "/api/private", cookies)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"id":1,"karma":42}`, rec.Body.String())
	})

	t.Run("stale session", func(t *testing.T) {
		cookies := login(t, r, "2")
		rec := get(r, "/api/private", cookies)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLoadUser_KeepsSessionOnTransientError(t *testing.T) {
	loader := &flakyLoader{}
	r := newSessionRouter(loader)
	cookies := login(t, r, "1")

	loader.down = true
	rec := get(r, "/api/public", cookies)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"reason":"internal"`)
	assert.Empty(t, rec.Result().Cookies(), "session must not be rewritten")

	loader.down = false
	rec = get(r, "/api/private", cookies)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":1,"karma":5}`, rec.Body.String())
}

func TestSessionUserID(t *testing.T) {
	tests := []struct {
		in   any
		want uint
		ok   bool
	}{
		{uint(3), 3, true},
		{int(4), 4, true},
		{int64(5), 5, true},
		{uint64(6), 6, true},
		{int(0), 0, false},
		{"7", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := sessionUserID(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got)
		}
	}
}
