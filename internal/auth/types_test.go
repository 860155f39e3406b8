package auth

import "testing"

func TestExtractSessionID(t *testing.T) {
	tests := []struct {
		scope string
		want  string
	}{
		{"session:abc-123", "abc-123"},
		{"session:abc-123:ro", "abc-123"},
		{"admin", ""},
		{"admin:ro", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ExtractSessionID(tt.scope); got != tt.want {
			t.Errorf("ExtractSessionID(%q) = %q, want %q", tt.scope, got, tt.want)
		}
	}
}

func TestAuthContext_CanAccessSession(t *testing.T) {
	tests := []struct {
		name      string
		scope     string
		sessionID string
		want      bool
	}{
		{"admin sees any session", ScopeAdmin, "sess-1", true},
		{"admin:ro sees any session", ScopeAdminRO, "sess-1", true},
		{"matching session scope", ScopeSession("sess-1"), "sess-1", true},
		{"matching read-only session scope", ScopeSessionRO("sess-1"), "sess-1", true},
		{"other session denied", ScopeSession("sess-1"), "sess-2", false},
		{"unknown scope denied", "something-else", "sess-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authCtx := &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: tt.scope}}
			if got := authCtx.CanAccessSession(tt.sessionID); got != tt.want {
				t.Errorf("CanAccessSession(%q) with scope %q = %v, want %v", tt.sessionID, tt.scope, got, tt.want)
			}
		})
	}

	nilToken := &AuthContext{}
	if nilToken.CanAccessSession("sess-1") {
		t.Error("nil token should never grant access")
	}
}

func TestAuthContext_CanWrite(t *testing.T) {
	tests := []struct {
		scope string
		want  bool
	}{
		{ScopeAdmin, true},
		{ScopeAdminRO, false},
		{ScopeSession("sess-1"), true},
		{ScopeSessionRO("sess-1"), false},
	}

	for _, tt := range tests {
		authCtx := &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: tt.scope}}
		if got := authCtx.CanWrite(); got != tt.want {
			t.Errorf("CanWrite() with scope %q = %v, want %v", tt.scope, got, tt.want)
		}
	}
}

func TestAuthContext_IsAdmin(t *testing.T) {
	admin := &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: ScopeAdmin}}
	if !admin.IsAdmin() {
		t.Error("admin scope should be admin")
	}

	readOnly := &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: ScopeAdminRO}}
	if readOnly.IsAdmin() {
		t.Error("admin:ro should not be full admin")
	}

	session := &AuthContext{Type: AuthTypeToken, Token: &Token{Scope: ScopeSession("sess-1")}}
	if session.IsAdmin() {
		t.Error("session scope should not be admin")
	}
}
