package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/metrics":                "/metrics",
		"/token":                  "/token",
		"/authorize?state=x":      "/authorize",
		"/api/auth/login":         "/api/auth/login",
		"/api/access/summary?a=1": "/api/access/summary",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
