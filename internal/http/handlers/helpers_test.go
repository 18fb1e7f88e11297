package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-rag-chat-backend/internal/domain"
	"github.com/tbourn/go-rag-chat-backend/internal/services"
)

// ----- Fake services -----

type fakeAuthSvc struct {
	registerErr error
	loginErr    error
	refreshErr  error

	gotEmail    string
	gotPassword string
	gotRefresh  string
}

func (f *fakeAuthSvc) Register(_ context.Context, email, password, firstName, lastName string) (*domain.User, *services.TokenPair, error) {
	f.gotEmail, f.gotPassword = email, password
	if f.registerErr != nil {
		return nil, nil, f.registerErr
	}
	u := &domain.User{ID: "u1", Email: email, FirstName: firstName, LastName: lastName}
	return u, &services.TokenPair{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 900}, nil
}

func (f *fakeAuthSvc) Login(_ context.Context, email, password string) (*services.TokenPair, error) {
	f.gotEmail, f.gotPassword = email, password
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &services.TokenPair{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 900}, nil
}

func (f *fakeAuthSvc) Refresh(_ context.Context, refreshToken string) (*services.TokenPair, error) {
	f.gotRefresh = refreshToken
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &services.TokenPair{AccessToken: "at2", RefreshToken: "rt2", ExpiresIn: 900}, nil
}

type fakeSessionSvc struct {
	createErr error
	getErr    error
	renameErr error
	toggleErr error
	removeErr error
	listErr   error

	gotUserID string
	gotID     string
	gotTitle  string
	gotDesc   *string
}

func (f *fakeSessionSvc) Create(_ context.Context, userID, title string, description *string) (*domain.Session, error) {
	f.gotUserID, f.gotTitle, f.gotDesc = userID, title, description
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.Session{ID: testSessionID, UserID: userID, Title: title, Description: description}, nil
}

func (f *fakeSessionSvc) List(_ context.Context, userID string) ([]domain.Session, error) {
	f.gotUserID = userID
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []domain.Session{{ID: testSessionID, UserID: userID, Title: "t"}}, nil
}

func (f *fakeSessionSvc) Get(_ context.Context, id, userID string) (*domain.Session, error) {
	f.gotID, f.gotUserID = id, userID
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &domain.Session{ID: id, UserID: userID, Title: "t"}, nil
}

func (f *fakeSessionSvc) Rename(_ context.Context, id, userID, title string) (*domain.Session, error) {
	f.gotID, f.gotUserID, f.gotTitle = id, userID, title
	if f.renameErr != nil {
		return nil, f.renameErr
	}
	return &domain.Session{ID: id, UserID: userID, Title: title}, nil
}

func (f *fakeSessionSvc) ToggleFavorite(_ context.Context, id, userID string) (*domain.Session, error) {
	f.gotID, f.gotUserID = id, userID
	if f.toggleErr != nil {
		return nil, f.toggleErr
	}
	return &domain.Session{ID: id, UserID: userID, Title: "t", IsFavorite: true}, nil
}

func (f *fakeSessionSvc) Remove(_ context.Context, id, userID string) error {
	f.gotID, f.gotUserID = id, userID
	return f.removeErr
}

type fakeMessageSvc struct {
	appendErr error
	listErr   error

	gotUserID    string
	gotSessionID string
	gotInput     services.AppendInput
	gotPage      int
	gotPageSize  int

	pageItems []domain.Message
	pageTotal int64
}

func (f *fakeMessageSvc) Append(_ context.Context, userID, sessionID string, in services.AppendInput) (*domain.Message, error) {
	f.gotUserID, f.gotSessionID, f.gotInput = userID, sessionID, in
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	seq := 1
	return &domain.Message{ID: "m1", SessionID: sessionID, UserID: userID, Sender: in.Sender, Content: in.Content, SequenceNumber: &seq}, nil
}

func (f *fakeMessageSvc) ListPage(_ context.Context, userID, sessionID string, page, pageSize int) ([]domain.Message, int64, error) {
	f.gotUserID, f.gotSessionID, f.gotPage, f.gotPageSize = userID, sessionID, page, pageSize
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	return f.pageItems, f.pageTotal, nil
}

type fakeRAGSvc struct {
	chatErr  error
	queryErr error

	gotUserID  string
	gotMessage string
	gotQuery   string
}

func (f *fakeRAGSvc) Chat(_ context.Context, userID, message string) (*services.ChatOutput, error) {
	f.gotUserID, f.gotMessage = userID, message
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	return &services.ChatOutput{Response: "answer", Context: &domain.RAGContext{Query: message}}, nil
}

func (f *fakeRAGSvc) Query(_ context.Context, query string) (*services.QueryOutput, error) {
	f.gotQuery = query
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &services.QueryOutput{Query: query, Results: []domain.RetrievedChunk{}}, nil
}

// ----- Router plumbing -----

const (
	testUserID    = "11111111-1111-1111-1111-111111111111"
	testSessionID = "22222222-2222-2222-2222-222222222222"
)

// newTestRouter wires the handlers behind a stub identity middleware, the way
// the real router mounts them behind RequireAuth.
func newTestRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)

	auth := r.Group("")
	auth.Use(func(c *gin.Context) { c.Set("userID", testUserID); c.Next() })
	auth.POST("/sessions", h.CreateSession)
	auth.GET("/sessions", h.ListSessions)
	auth.GET("/sessions/:id", h.GetSession)
	auth.PUT("/sessions/:id/rename", h.RenameSession)
	auth.PUT("/sessions/:id/favorite", h.ToggleFavorite)
	auth.DELETE("/sessions/:id", h.DeleteSession)
	auth.POST("/sessions/:id/messages", h.AppendMessage)
	auth.GET("/sessions/:id/messages", h.ListMessages)
	auth.POST("/rag/chat", h.RAGChat)
	auth.POST("/rag/query", h.RAGQuery)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("invalid envelope json: %v\nbody: %s", err, w.Body.String())
	}
	return env
}

func requireFailure(t *testing.T, w *httptest.ResponseRecorder, status int, code string) Envelope {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d; want %d (body %s)", w.Code, status, w.Body.String())
	}
	env := decodeEnvelope(t, w)
	if env.Success || env.Code != code || env.StatusCode != status {
		t.Fatalf("envelope mismatch: %+v", env)
	}
	return env
}
