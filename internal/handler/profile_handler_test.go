package handler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/mfgconsole/internal/model"
	"github.com/hitoshi/mfgconsole/internal/session"
)

func TestProfile_ShowsUser(t *testing.T) {
	c := newTestConsole(t, nil, nil)

	u := &model.User{Email: "qa@example.com", Role: model.RoleQuality, Department: "QA Lab"}
	req := withUser(httptest.NewRequest(http.MethodGet, "/profile", nil), u)
	w := httptest.NewRecorder()
	c.Profile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{"qa@example.com", "Quality", `value="QA Lab"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body does not contain %q", want)
		}
	}
}

func TestUpdateProfile_SendsOnlySubmittedFields(t *testing.T) {
	var got map[string]any
	sess := &mockSessionService{
		user: testQuality,
		updateProfileFn: func(_ context.Context, patch map[string]any) (*model.User, error) {
			got = patch
			return testQuality, nil
		},
	}
	c := newTestConsole(t, sess, nil)

	form := url.Values{"phone": {" 98450 12345 "}, "department": {"QA"}, "role": {"admin"}}
	req := withUser(postForm("/profile", form), testQuality)
	w := httptest.NewRecorder()
	c.UpdateProfile(w, req)

	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if len(got) != 2 || got["phone"] != "98450 12345" || got["department"] != "QA" {
		t.Errorf("patch = %v, want phone and department only", got)
	}
	if f := flashOf(t, w); f == nil || f.Message != "Profile updated." {
		t.Errorf("flash = %+v", f)
	}
}

func TestUpdateProfile_ValidationErrorRendersForm(t *testing.T) {
	sess := &mockSessionService{
		user: testQuality,
		updateProfileFn: func(context.Context, map[string]any) (*model.User, error) {
			return nil, model.NewStatusError(http.StatusBadRequest, "", map[string][]string{"phone": {"Enter a valid phone number."}})
		},
	}
	c := newTestConsole(t, sess, nil)

	req := withUser(postForm("/profile", url.Values{"phone": {"abc"}}), testQuality)
	w := httptest.NewRecorder()
	c.UpdateProfile(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), "phone: Enter a valid phone number.") {
		t.Error("field error is not shown")
	}
}

func TestUpdateProfile_NothingSubmitted(t *testing.T) {
	called := false
	sess := &mockSessionService{
		updateProfileFn: func(context.Context, map[string]any) (*model.User, error) {
			called = true
			return nil, nil
		},
	}
	c := newTestConsole(t, sess, nil)

	w := httptest.NewRecorder()
	c.UpdateProfile(w, withUser(postForm("/profile", url.Values{}), testQuality))

	if called {
		t.Error("UpdateProfile should not be called with an empty patch")
	}
	if f := flashOf(t, w); f == nil || f.Kind != "error" {
		t.Errorf("flash = %+v", f)
	}
}

func TestChangePassword_MismatchNotSent(t *testing.T) {
	called := false
	sess := &mockSessionService{
		changePasswordFn: func(context.Context, string, string, string) error {
			called = true
			return nil
		},
	}
	c := newTestConsole(t, sess, nil)

	form := url.Values{"old_password": {"old"}, "new_password": {"n1"}, "new_password_confirm": {"n2"}}
	w := httptest.NewRecorder()
	c.ChangePassword(w, withUser(postForm("/profile/password", form), testQuality))

	if called {
		t.Error("ChangePassword should not be called when confirmation differs")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if !strings.Contains(w.Body.String(), "New passwords do not match.") {
		t.Error("mismatch message is not shown")
	}
}

func TestChangePassword_Success(t *testing.T) {
	sess := &mockSessionService{
		changePasswordFn: func(_ context.Context, oldPassword, newPassword, confirm string) error {
			if oldPassword != "old" || newPassword != "n1" || confirm != "n1" {
				t.Errorf("ChangePassword(%q, %q, %q)", oldPassword, newPassword, confirm)
			}
			return nil
		},
	}
	c := newTestConsole(t, sess, nil)

	form := url.Values{"old_password": {"old"}, "new_password": {"n1"}, "new_password_confirm": {"n1"}}
	w := httptest.NewRecorder()
	c.ChangePassword(w, withUser(postForm("/profile/password", form), testQuality))

	if loc := w.Header().Get("Location"); w.Code != http.StatusSeeOther || loc != "/profile" {
		t.Errorf("got %d %q, want 303 /profile", w.Code, loc)
	}
}

func TestChangePassword_WrongOldPassword(t *testing.T) {
	sess := &mockSessionService{
		changePasswordFn: func(context.Context, string, string, string) error {
			return model.NewStatusError(http.StatusBadRequest, "", map[string][]string{"old_password": {"Old password is incorrect."}})
		},
	}
	c := newTestConsole(t, sess, nil)

	form := url.Values{"old_password": {"x"}, "new_password": {"n1"}, "new_password_confirm": {"n1"}}
	w := httptest.NewRecorder()
	c.ChangePassword(w, withUser(postForm("/profile/password", form), testQuality))

	if !strings.Contains(w.Body.String(), "old_password: Old password is incorrect.") {
		t.Error("server field error is not shown")
	}
}

func TestChangePassword_SessionExpired(t *testing.T) {
	sess := &mockSessionService{
		changePasswordFn: func(context.Context, string, string, string) error {
			return fmt.Errorf("%w: refresh failed", session.ErrSessionExpired)
		},
	}
	c := newTestConsole(t, sess, nil)

	form := url.Values{"old_password": {"x"}, "new_password": {"n1"}, "new_password_confirm": {"n1"}}
	w := httptest.NewRecorder()
	c.ChangePassword(w, withUser(postForm("/profile/password", form), testQuality))

	if loc := w.Header().Get("Location"); loc != "/login" {
		t.Errorf("Location = %q, want /login", loc)
	}
}
