package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

// fakeProvider answers identity-toolkit style account calls with canned
// responses keyed by email.
func fakeProvider(t *testing.T, responses map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/v1/accounts:") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("api key not forwarded")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		email, _ := body["email"].(string)
		if resp, ok := responses[email]; ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(resp))
			return
		}
		_, _ = fmt.Fprintf(w, `{"localId":"uid-1","email":%q,"idToken":"tok","refreshToken":"rtok"}`, email)
	}))
}

func TestSignInClassifiesProviderErrors(t *testing.T) {
	srv := fakeProvider(t, map[string]string{
		"gone@x.com":   `{"error":{"message":"EMAIL_NOT_FOUND"}}`,
		"wrong@x.com":  `{"error":{"message":"INVALID_PASSWORD"}}`,
		"creds@x.com":  `{"error":{"message":"INVALID_LOGIN_CREDENTIALS"}}`,
		"strange@x.com": `{"error":{"message":"SOMETHING_ELSE"}}`,
	})
	defer srv.Close()
	c := New(srv.URL, "test-key")
	ctx := context.Background()

	cases := []struct {
		email string
		want  error
	}{
		{"gone@x.com", ErrWrongCredentials},
		{"wrong@x.com", ErrWrongCredentials},
		{"creds@x.com", ErrWrongCredentials},
	}
	for _, tc := range cases {
		if _, err := c.SignIn(ctx, tc.email, "pw"); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.email, tc.want, err)
		}
	}

	_, err := c.SignIn(ctx, "strange@x.com", "pw")
	if err == nil || errors.Is(err, ErrWrongCredentials) {
		t.Fatalf("unclassified code mishandled: %v", err)
	}
	if Classify(err) != "An unexpected error occurred. Please try again." {
		t.Fatalf("unclassified error leaked detail: %q", Classify(err))
	}
}

func TestSignUpClassifiesProviderErrors(t *testing.T) {
	srv := fakeProvider(t, map[string]string{
		"taken@x.com": `{"error":{"message":"EMAIL_EXISTS"}}`,
		"weak@x.com":  `{"error":{"message":"WEAK_PASSWORD : Password should be at least 6 characters"}}`,
	})
	defer srv.Close()
	c := New(srv.URL, "test-key")
	ctx := context.Background()

	if _, err := c.SignUp(ctx, "taken@x.com", "pw123456"); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected ErrEmailInUse, got %v", err)
	}
	if _, err := c.SignUp(ctx, "weak@x.com", "pw"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestInvalidEmailRejectedWithoutNetwork(t *testing.T) {
	c := New("http://127.0.0.1:1", "test-key") // nothing listens here
	for _, email := range []string{"", "nope", "a@", "@b.com"} {
		if _, err := c.SignIn(context.Background(), email, "pw"); !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("%q: expected ErrInvalidEmail, got %v", email, err)
		}
	}
}

func TestClassifyMessages(t *testing.T) {
	cases := map[error]string{
		ErrInvalidEmail:     "Please enter a valid email address.",
		ErrWrongCredentials: "Invalid email or password.",
		ErrEmailInUse:       "This email address is already in use.",
		ErrWeakPassword:     "Password should be at least 6 characters.",
		errors.New("boom"):  "An unexpected error occurred. Please try again.",
	}
	for err, want := range cases {
		if got := Classify(err); got != want {
			t.Fatalf("%v: got %q, want %q", err, got, want)
		}
	}
}

// unsignedToken builds an unverified JWT carrying the given claims.
func unsignedToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(b)
	}
	return enc(map[string]any{"alg": "none", "typ": "JWT"}) + "." + enc(claims) + "."
}

func TestSessionFillsIdentityFromTokenClaims(t *testing.T) {
	tok := unsignedToken(t, map[string]any{"user_id": "uid-9", "email": "claims@x.com"})
	srv := fakeProvider(t, map[string]string{
		"claims@x.com": fmt.Sprintf(`{"idToken":%q,"refreshToken":"r"}`, tok),
	})
	defer srv.Close()
	c := New(srv.URL, "test-key")

	s, err := c.SignIn(context.Background(), "claims@x.com", "pw")
	if err != nil {
		t.Fatalf("sign in failed: %v", err)
	}
	if s.Identity.UID != "uid-9" || s.Identity.Email != "claims@x.com" {
		t.Fatalf("identity gaps not filled from claims: %+v", s.Identity)
	}
}

func TestUpdateSendsOnlySetFields(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"displayName":"New Name"}`))
	}))
	defer srv.Close()
	c := New(srv.URL, "test-key")

	sess := &Session{IDToken: "tok"}
	sess.Identity.UID = "u1"
	id, err := c.Update(context.Background(), sess, "New Name", "")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, present := got["photoUrl"]; present {
		t.Fatalf("empty photoUrl sent to provider")
	}
	if got["displayName"] != "New Name" || got["idToken"] != "tok" {
		t.Fatalf("unexpected body: %#v", got)
	}
	if id.DisplayName != "New Name" {
		t.Fatalf("identity not refreshed: %+v", id)
	}
}

func TestUpdateWithoutSession(t *testing.T) {
	c := New("http://127.0.0.1:1", "test-key")
	if _, err := c.Update(context.Background(), nil, "x", ""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestSessionFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session", "session.json")

	// Missing file is no session, not an error.
	s, err := LoadSession(path)
	if err != nil || s != nil {
		t.Fatalf("missing file: got %v, %v", s, err)
	}

	in := &Session{IDToken: "tok", RefreshToken: "r"}
	in.Identity.UID = "u1"
	in.Identity.Email = "a@x.com"
	if err := SaveSession(path, in); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	out, err := LoadSession(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if out == nil || out.Identity.UID != "u1" || out.IDToken != "tok" {
		t.Fatalf("round trip mangled: %+v", out)
	}

	if err := ClearSession(path); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if s, _ := LoadSession(path); s != nil {
		t.Fatalf("session survived clear")
	}
	// Clearing twice is fine.
	if err := ClearSession(path); err != nil {
		t.Fatalf("second clear errored: %v", err)
	}
}
