package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
)

func TestExtractUsernameFromCN(t *testing.T) {
	tests := []struct {
		name     string
		cn       string
		expected string
	}{
		{
			name:     "standard format with name and username",
			cn:       "Heath Taylor (heatht)",
			expected: "heatht",
		},
		{
			name:     "username only in parentheses",
			cn:       "(admin)",
			expected: "admin",
		},
		{
			name:     "name with middle initial",
			cn:       "John Q. Public (jpublic)",
			expected: "jpublic",
		},
		{
			name:     "extra spaces around username",
			cn:       "Test User ( testuser )",
			expected: "testuser",
		},
		{
			name:     "no parentheses",
			cn:       "Just A Name",
			expected: "",
		},
		{
			name:     "empty string",
			cn:       "",
			expected: "",
		},
		{
			name:     "parentheses in middle not at end",
			cn:       "Name (part) More",
			expected: "",
		},
		{
			name:     "multiple parentheses takes last",
			cn:       "Name (first) (second)",
			expected: "second",
		},
		{
			name:     "nested parentheses returns empty (invalid format)",
			cn:       "Name ((nested))",
			expected: "",
		},
		{
			name:     "special characters in username",
			cn:       "User Name (user-name_123)",
			expected: "user-name_123",
		},
		{
			name:     "unicode name",
			cn:       "José García (jgarcia)",
			expected: "jgarcia",
		},
		{
			name:     "trailing whitespace after parentheses",
			cn:       "Test User (testuser)   ",
			expected: "testuser",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractUsernameFromCN(tt.cn)
			if got != tt.expected {
				t.Errorf("extractUsernameFromCN(%q) = %q, want %q", tt.cn, got, tt.expected)
			}
		})
	}
}

func newAuthApp(m *AuthMiddleware) *fiber.App {
	app := fiber.New()
	app.Get("/whoami", m.RequireAuth, func(c fiber.Ctx) error {
		return c.SendString(OwnerID(c))
	})
	return app
}

func TestRequireAuth(t *testing.T) {
	verifier := NewHMACVerifier("test-secret")
	good, err := verifier.Issue("owner-a", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	expired, err := verifier.Issue("owner-a", -time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	foreign, err := NewHMACVerifier("other-secret").Issue("owner-a", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	noSubject, err := verifier.Issue("", time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	app := newAuthApp(NewAuthMiddleware(verifier, "X-Client-CN"))

	tests := []struct {
		name       string
		target     string
		header     map[string]string
		wantStatus int
		wantOwner  string
	}{
		{"no credentials", "/whoami", nil, http.StatusUnauthorized, ""},
		{"valid bearer", "/whoami", map[string]string{"Authorization": "Bearer " + good}, http.StatusOK, "owner-a"},
		{"lowercase scheme", "/whoami", map[string]string{"Authorization": "bearer " + good}, http.StatusOK, "owner-a"},
		{"query token", "/whoami?access_token=" + good, nil, http.StatusOK, "owner-a"},
		{"expired", "/whoami", map[string]string{"Authorization": "Bearer " + expired}, http.StatusUnauthorized, ""},
		{"wrong secret", "/whoami", map[string]string{"Authorization": "Bearer " + foreign}, http.StatusUnauthorized, ""},
		{"no subject", "/whoami", map[string]string{"Authorization": "Bearer " + noSubject}, http.StatusUnauthorized, ""},
		{"garbage", "/whoami", map[string]string{"Authorization": "Bearer abc.def"}, http.StatusUnauthorized, ""},
		{"client cert", "/whoami", map[string]string{"X-Client-CN": "Test User (testuser)"}, http.StatusOK, "testuser"},
		{"bad client cert falls back", "/whoami", map[string]string{"X-Client-CN": "Just A Name"}, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}

			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			body, _ := io.ReadAll(resp.Body)
			if tt.wantStatus == http.StatusOK && string(body) != tt.wantOwner {
				t.Errorf("owner = %q, want %q", body, tt.wantOwner)
			}
			if tt.wantStatus == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") != "Bearer" {
				t.Errorf("WWW-Authenticate = %q", resp.Header.Get("WWW-Authenticate"))
			}
		})
	}
}

func TestRequireAuth_CertHeaderDisabled(t *testing.T) {
	app := newAuthApp(NewAuthMiddleware(NewHMACVerifier("test-secret"), ""))

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("X-Client-CN", "Test User (testuser)")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 when cert header is not trusted", resp.StatusCode)
	}
}
