package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"holodomination/internal/config"
	"holodomination/internal/db/dbtest"
	"holodomination/internal/handlers"
	"holodomination/internal/middleware"
	"holodomination/internal/models"
	"holodomination/internal/oauth"
	"holodomination/internal/router"
	"holodomination/internal/services"
	"holodomination/internal/storage"
	"holodomination/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeProvider 用 code 直接映射身份，不访问网络
type fakeProvider struct {
	identities map[string]oauth.Identity
}

func (p *fakeProvider) Name() string { return "Fake" }

func (p *fakeProvider) AuthCodeURL(state, verifier string) string {
	return "https://fake.example/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(ctx context.Context, code, verifier string) (*oauth.Identity, error) {
	if verifier == "" {
		return nil, errors.New("missing verifier")
	}
	ident, ok := p.identities[code]
	if !ok {
		return nil, errors.New("bad code")
	}
	return &ident, nil
}

type testServer struct {
	t      *testing.T
	conn   *gorm.DB
	engine *gin.Engine
	store  *storage.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	conn := dbtest.Open(t)
	store := storage.NewMemoryStore()
	provider := &fakeProvider{identities: map[string]oauth.Identity{}}
	for _, name := range []string{"calli", "kiara", "ina", "gura", "ame"} {
		provider.identities[name] = oauth.Identity{
			Provider:            "Fake",
			ProviderKey:         "key-" + name,
			ProviderDisplayName: "Fake",
			Name:                name,
			Email:               name + "@example.com",
		}
	}

	engine := router.New(config.ServerConfig{
		SessionSecret: "test-secret",
		CORSOrigins:   []string{"http://localhost:3000"},
	}, router.Deps{
		Providers: oauth.NewRegistry(provider),
		Store:     store,
		Cache:     utils.NewCache(100),
		Metrics:   middleware.NewMetrics(),
	})
	return &testServer{t: t, conn: conn, engine: engine, store: store}
}

func (s *testServer) do(method, path string, body io.Reader, contentType string, cookies []*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) json(method, path string, body interface{}, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	return s.do(method, path, &buf, "application/json", cookies)
}

// sessionCookie 取响应里最后一次写入的 session cookie
func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) []*http.Cookie {
	t.Helper()
	var last *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == router.SessionCookieName {
			last = c
		}
	}
	require.NotNil(t, last, "no session cookie set")
	return []*http.Cookie{last}
}

// signIn 走完整的 challenge/callback 流程
func (s *testServer) signIn(code string) []*http.Cookie {
	t := s.t
	t.Helper()

	w := s.do(http.MethodGet, "/api/authentication/challenge?provider=fake", nil, "", nil)
	require.Equal(t, http.StatusFound, w.Code)
	location, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	q := url.Values{"state": {state}, "code": {code}}
	w = s.do(http.MethodGet, "/api/authentication/callback?"+q.Encode(), nil, "", sessionCookie(t, w))
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	assert.Equal(t, "/", w.Header().Get("Location"))
	return sessionCookie(t, w)
}

func (s *testServer) grant(username string, roles ...string) {
	s.t.Helper()
	var user models.User
	require.NoError(s.t, s.conn.First(&user, "username = ?", username).Error)
	dbtest.Grant(s.t, s.conn, user.ID, roles...)
}

func (s *testServer) upload(cookies []*http.Cookie, id, tags string, lewd bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"id": id, "tags": tags, "author": "artist", "service": "Twitter", "isLewd": fmt.Sprint(lewd),
	}
	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", id+".png")
	require.NoError(s.t, err)
	_, err = fw.Write([]byte("png-bytes"))
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())
	return s.do(http.MethodPost, "/api/posts", &buf, mw.FormDataContentType(), cookies)
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestProvidersAndChallenge(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/authentication/providers", nil, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["Fake"]`, w.Body.String())

	w = s.do(http.MethodGet, "/api/authentication/challenge", nil, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/authentication/challenge?provider=myspace", nil, "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallbackRejectsBadState(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/authentication/challenge?provider=Fake", nil, "", nil)
	require.Equal(t, http.StatusFound, w.Code)

	w = s.do(http.MethodGet, "/api/authentication/callback?state=forged&code=calli", nil, "", sessionCookie(t, w))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, dbtest.Count(t, s.conn, &models.User{}))
}

func TestSignInFlowAndCurrentUser(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/users/current", nil, "", nil).Code)

	admin := s.signIn("calli")
	w := s.do(http.MethodGet, "/api/users/current", nil, "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	var me services.UserResponse
	decode(t, w, &me)
	assert.Equal(t, "calli", me.Username)
	assert.Equal(t, []string{"Admin"}, me.Roles)

	user := s.signIn("kiara")
	w = s.do(http.MethodGet, "/api/users/current", nil, "", user)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &me)
	assert.Empty(t, me.Roles)

	// 普通用户不能访问管理接口
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/users", nil, "", user).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/logs", nil, "", user).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/users", nil, "", admin).Code)

	w = s.do(http.MethodDelete, "/api/authentication/signout", nil, "", user)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/users/current", nil, "", sessionCookie(t, w)).Code)
}

func TestBannedUserForbidden(t *testing.T) {
	s := newTestServer(t)
	s.signIn("calli")
	s.signIn("gura")
	s.grant("gura", models.RoleBanned)

	banned := s.signIn("gura")
	w := s.do(http.MethodGet, "/api/users/current", nil, "", banned)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"You are banned"}`, w.Body.String())

	// 公共接口不受影响
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/posts", nil, "", banned).Code)
}

func TestBanAppliesToLiveSession(t *testing.T) {
	s := newTestServer(t)
	admin := s.signIn("calli")
	s.signIn("gura")
	s.grant("gura", "Staff")
	staff := s.signIn("gura")

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/users", nil, "", staff).Code)

	var gura models.User
	require.NoError(t, s.conn.First(&gura, "username = ?", "gura").Error)
	w := s.json(http.MethodPatch, "/api/users/"+gura.ID, map[string]interface{}{"isBanned": true}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// 旧 cookie 不需要重新登录就失去权限
	w = s.do(http.MethodGet, "/api/users", nil, "", staff)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"You are banned"}`, w.Body.String())
	assert.Equal(t, http.StatusForbidden, s.upload(staff, "1", "a", false).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodDelete, "/api/posts/999", nil, "", staff).Code)
}

func TestDemotionAppliesToLiveSession(t *testing.T) {
	s := newTestServer(t)
	admin := s.signIn("calli")
	s.signIn("ina")
	s.grant("ina", "Staff")
	staff := s.signIn("ina")

	var ina models.User
	require.NoError(t, s.conn.First(&ina, "username = ?", "ina").Error)
	w := s.json(http.MethodPatch, "/api/users/"+ina.ID, map[string]interface{}{"role": "Uploader"}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/users", nil, "", staff).Code)
	assert.Equal(t, http.StatusCreated, s.upload(staff, "1", "a", false).Code)

	w = s.do(http.MethodGet, "/api/users/current", nil, "", staff)
	require.Equal(t, http.StatusOK, w.Code)
	var me services.UserResponse
	decode(t, w, &me)
	assert.Equal(t, []string{"Uploader"}, me.Roles)
}

func TestPostLifecycle(t *testing.T) {
	s := newTestServer(t)
	admin := s.signIn("calli")
	s.signIn("ina")
	s.grant("ina", "Uploader")
	uploader := s.signIn("ina")
	plain := s.signIn("kiara")

	assert.Equal(t, http.StatusForbidden, s.upload(plain, "1", "a", false).Code)

	w := s.upload(uploader, "1", "Hakos_Baelz mococo", false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created services.PostResponse
	decode(t, w, &created)
	assert.Equal(t, []string{"hakos_baelz", "mococo"}, created.Tags)
	assert.Equal(t, models.ServiceTwitter, created.Service)

	w = s.upload(uploader, "1", "other", true)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodGet, "/api/posts?tags=hakos_baelz&keepLewd=false", nil, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list services.PostsResponse
	decode(t, w, &list)
	require.Len(t, list.Posts, 1)
	assert.Equal(t, 1, list.PageCount)
	assert.Contains(t, w.Body.String(), `"service":"Twitter"`)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/posts?keepLewd=maybe", nil, "", nil).Code)

	w = s.do(http.MethodGet, "/api/posts/1/image", nil, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=3600", w.Header().Get("Cache-Control"))
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", w.Body.String())

	w = s.do(http.MethodGet, "/api/posts/tags?query=hakos", nil, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `["hakos_baelz"]`, w.Body.String())

	w = s.json(http.MethodPatch, "/api/posts/1", map[string]interface{}{"tags": "mococo fuwawa", "isLewd": true}, uploader)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var edited services.PostResponse
	decode(t, w, &edited)
	assert.Equal(t, []string{"mococo", "fuwawa"}, edited.Tags)
	assert.True(t, edited.IsLewd)

	// 删除需要 Staff/Admin
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodDelete, "/api/posts/1", nil, "", uploader).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodDelete, "/api/posts/1", nil, "", admin).Code)
	assert.False(t, s.store.Has("1"))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/posts/1", nil, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/posts/1/image", nil, "", nil).Code)
}

func TestCommentPermissions(t *testing.T) {
	s := newTestServer(t)
	admin := s.signIn("calli")
	require.Equal(t, http.StatusCreated, s.upload(admin, "p1", "a", false).Code)

	author := s.signIn("kiara")
	other := s.signIn("ame")
	s.signIn("gura")
	require.NoError(t, s.conn.Model(&models.User{}).Where("username = ?", "gura").Update("can_comment", false).Error)
	muted := s.signIn("gura")

	w := s.json(http.MethodPost, "/api/posts/p1/comments", map[string]string{"content": "kikiriki"}, author)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var comment services.CommentResponse
	decode(t, w, &comment)
	assert.Equal(t, "kiara", comment.Author.Name)

	assert.Equal(t, http.StatusForbidden,
		s.json(http.MethodPost, "/api/posts/p1/comments", map[string]string{"content": "hi"}, muted).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.json(http.MethodPost, "/api/posts/p1/comments", map[string]string{"content": "  "}, author).Code)
	assert.Equal(t, http.StatusNotFound,
		s.json(http.MethodPost, "/api/posts/missing/comments", map[string]string{"content": "hi"}, author).Code)

	path := "/api/comments/" + comment.ID
	assert.Equal(t, http.StatusForbidden, s.json(http.MethodPut, path, map[string]string{"content": "x"}, other).Code)
	assert.Equal(t, http.StatusOK, s.json(http.MethodPut, path, map[string]string{"content": "edited"}, author).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodDelete, path, nil, "", other).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodDelete, path, nil, "", admin).Code)

	w = s.do(http.MethodGet, "/api/posts/p1/comments", nil, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var comments services.CommentsResponse
	decode(t, w, &comments)
	assert.Empty(t, comments.Comments)
}

func TestEditUsersAndLogs(t *testing.T) {
	s := newTestServer(t)
	admin := s.signIn("calli")
	s.signIn("ina")

	var target models.User
	require.NoError(t, s.conn.First(&target, "username = ?", "ina").Error)

	w := s.json(http.MethodPatch, "/api/users/"+target.ID, map[string]interface{}{"role": "Staff"}, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var edited services.StaffUserResponse
	decode(t, w, &edited)
	assert.Equal(t, []string{"Staff"}, edited.Roles)

	// 重新登录同样拿到新角色
	staff := s.signIn("ina")
	var admins models.User
	require.NoError(t, s.conn.First(&admins, "username = ?", "calli").Error)
	assert.Equal(t, http.StatusForbidden,
		s.json(http.MethodPatch, "/api/users/"+admins.ID, map[string]interface{}{"isBanned": true}, staff).Code)

	w = s.do(http.MethodGet, "/api/logs?towards="+target.ID, nil, "", staff)
	require.Equal(t, http.StatusOK, w.Code)
	var logs services.LogsResponse
	decode(t, w, &logs)
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, "calli", logs.Logs[0].ByUsername)

	w = s.json(http.MethodPatch, "/api/users/current", map[string]string{"username": "ninomae"}, staff)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	renamed := sessionCookie(t, w)
	w = s.do(http.MethodGet, "/api/users/current", nil, "", renamed)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"username":"ninomae"`)

	assert.Equal(t, http.StatusConflict,
		s.json(http.MethodPatch, "/api/users/current", map[string]string{"username": "CALLI"}, staff).Code)
}

func TestOperationalEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/healthz", nil, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	s.do(http.MethodGet, "/api/posts", nil, "", nil)
	w = s.do(http.MethodGet, "/metrics", nil, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}

func TestRespondError(t *testing.T) {
	cases := []struct {
		err  error
		code int
		body string
	}{
		{&services.Error{Kind: services.ErrBadRequest, Message: "Invalid service type"}, http.StatusBadRequest, "Invalid service type"},
		{&services.Error{Kind: services.ErrForbidden, Message: "no"}, http.StatusForbidden, "no"},
		{fmt.Errorf("wrapped: %w", &services.Error{Kind: services.ErrNotFound, Message: "Post 1 not found"}), http.StatusNotFound, "Post 1 not found"},
		{&services.Error{Kind: services.ErrConflict, Message: "dup"}, http.StatusConflict, "dup"},
		{&services.Error{Kind: services.ErrInternal, Message: "Ask calli to manually delete post 1"}, http.StatusInternalServerError, "Ask calli to manually delete post 1"},
		{errors.New("connection refused"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		handlers.RespondError(c, tc.err)
		assert.Equal(t, tc.code, w.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tc.body, body["error"])
	}
}
