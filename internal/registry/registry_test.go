package registry

import (
	"context"
	"errors"
	"testing"

	tokens "github.com/dropDatabas3/toolgate/internal/security/token"
	"github.com/dropDatabas3/toolgate/internal/store/core"
	"github.com/dropDatabas3/toolgate/internal/store/memory"
)

func seedRegistry(t *testing.T) (*Registry, *memory.Store) {
	t.Helper()
	st := memory.New()
	r := New(st)
	err := r.Seed(context.Background(), []core.Client{
		{
			ClientID:     "mcp-inspector",
			Name:         "MCP Inspector",
			RedirectURIs: []string{"http://localhost:*"},
			Scopes:       []string{"mcp:tools"},
		},
		{
			ClientID:     "backoffice",
			SecretHash:   tokens.SHA256Base64URL("s3cret"),
			Name:         "Backoffice",
			RedirectURIs: []string{"https://backoffice.example.com/oauth/callback"},
			Scopes:       []string{"mcp:tools", "mcp:admin"},
		},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return r, st
}

func TestValidateClient_UnknownAndInactive(t *testing.T) {
	r, st := seedRegistry(t)
	ctx := context.Background()

	if _, err := r.ValidateClient(ctx, "nope", "http://localhost:6274/callback"); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("want ErrUnknownClient, got %v", err)
	}

	_ = st.SetClientActive(ctx, "mcp-inspector", false)
	if _, err := r.ValidateClient(ctx, "mcp-inspector", "http://localhost:6274/callback"); !errors.Is(err, ErrInactiveClient) {
		t.Fatalf("want ErrInactiveClient, got %v", err)
	}
}

func TestValidateClient_RedirectMismatch(t *testing.T) {
	r, _ := seedRegistry(t)
	if _, err := r.ValidateClient(context.Background(), "backoffice", "https://evil.example.com/cb"); !errors.Is(err, ErrRedirectURI) {
		t.Fatalf("want ErrRedirectURI, got %v", err)
	}
	if _, err := r.ValidateClient(context.Background(), "backoffice", "https://backoffice.example.com/oauth/callback"); err != nil {
		t.Fatalf("exact match must pass: %v", err)
	}
}

func TestMatchRedirectURI_WildcardPort(t *testing.T) {
	cases := []struct {
		pattern, uri string
		want         bool
	}{
		{"http://localhost:*", "http://localhost:6274/callback", true},
		{"http://localhost:*", "http://localhost:9999/callback", true},
		{"http://localhost:*", "http://localhost:9999/", true},
		{"http://localhost:*", "http://example.com:6274/callback", false},
		{"http://localhost:*", "https://localhost:6274/callback", false},
		{"http://localhost:*/callback", "http://localhost:6274/callback", true},
		{"http://localhost:*/callback", "http://localhost:6274/other", false},
		{"https://app.example.com/cb", "https://app.example.com/cb", true},
		{"https://app.example.com/cb", "https://app.example.com/cb2", false},
	}
	for _, c := range cases {
		if got := MatchRedirectURI(c.pattern, c.uri); got != c.want {
			t.Fatalf("MatchRedirectURI(%q, %q) = %v, want %v", c.pattern, c.uri, got, c.want)
		}
	}
}

func TestValidateScopes_AllOrNothing(t *testing.T) {
	r, _ := seedRegistry(t)
	ctx := context.Background()

	if err := r.ValidateScopes(ctx, "mcp-inspector", []string{"mcp:tools"}); err != nil {
		t.Fatalf("allowed scope must pass: %v", err)
	}
	err := r.ValidateScopes(ctx, "mcp-inspector", []string{"mcp:tools", "evil:scope"})
	if !errors.Is(err, ErrScopeNotAllowed) {
		t.Fatalf("unknown scope must reject the whole request, got %v", err)
	}
}

func TestIsPKCERequired_FailClosed(t *testing.T) {
	r, _ := seedRegistry(t)
	if !r.IsPKCERequired(context.Background(), "unknown-client") {
		t.Fatalf("unknown client must require PKCE")
	}
	if !r.IsPKCERequired(context.Background(), "mcp-inspector") {
		t.Fatalf("seeded clients require PKCE unconditionally")
	}
}

func TestAuthenticate(t *testing.T) {
	r, _ := seedRegistry(t)
	ctx := context.Background()

	if _, err := r.Authenticate(ctx, "backoffice", "s3cret"); err != nil {
		t.Fatalf("valid secret: %v", err)
	}
	if _, err := r.Authenticate(ctx, "backoffice", "wrong"); err == nil {
		t.Fatalf("wrong secret must fail")
	}
	if _, err := r.Authenticate(ctx, "backoffice", ""); err == nil {
		t.Fatalf("missing secret must fail for confidential client")
	}
	// Client público (seed sin secret => auth_method none)
	if _, err := r.Authenticate(ctx, "mcp-inspector", ""); err != nil {
		t.Fatalf("public client must authenticate without secret: %v", err)
	}
}
