package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/taskman/internal/model"
)

func TestUserHandler_Me(t *testing.T) {
	h := NewUserHandler(&mockUserService{}, nil)

	req := withUser(httptest.NewRequest(http.MethodGet, "/user", nil), &model.User{
		ID: "user-1", Name: "Alice", Email: "alice@example.com",
	})
	w := httptest.NewRecorder()
	h.Me(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body userResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	want := userResponse{ID: "user-1", Name: "Alice", Email: "alice@example.com"}
	if body != want {
		t.Errorf("body = %+v, want %+v", body, want)
	}
}

func TestUserHandler_Me_Unauthenticated(t *testing.T) {
	w := httptest.NewRecorder()
	NewUserHandler(&mockUserService{}, nil).Me(w, httptest.NewRequest(http.MethodGet, "/user", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestUserHandler_Withdraw_Success(t *testing.T) {
	var gotUserID string
	svc := &mockUserService{
		withdrawFn: func(ctx context.Context, userID string) error {
			gotUserID = userID
			return nil
		},
	}
	clearer := &mockSessionClearer{}

	w := httptest.NewRecorder()
	NewUserHandler(svc, clearer).Withdraw(w, withUserID(httptest.NewRequest(http.MethodDelete, "/user", nil), "user-123"))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if gotUserID != "user-123" {
		t.Errorf("userID = %q, want user-123", gotUserID)
	}
	if clearer.calls != 1 {
		t.Errorf("session clearer calls = %d, want 1", clearer.calls)
	}
}

func TestUserHandler_Withdraw_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"user not found", model.NewUserNotFoundError(), http.StatusNotFound},
		{"internal", errors.New("db error"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearer := &mockSessionClearer{}
			svc := &mockUserService{
				withdrawFn: func(ctx context.Context, userID string) error { return tt.err },
			}
			w := httptest.NewRecorder()
			NewUserHandler(svc, clearer).Withdraw(w, withUserID(httptest.NewRequest(http.MethodDelete, "/user", nil), "user-123"))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if clearer.calls != 0 {
				t.Error("session should not be cleared when withdrawal fails")
			}
		})
	}
}

func TestUserHandler_Withdraw_Unauthenticated(t *testing.T) {
	w := httptest.NewRecorder()
	NewUserHandler(&mockUserService{}, nil).Withdraw(w, httptest.NewRequest(http.MethodDelete, "/user", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
