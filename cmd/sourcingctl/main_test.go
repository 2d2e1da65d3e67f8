package main

import (
	"bytes"
	"strings"
	"testing"

	"sourcingflow/auth"
)

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://unused@localhost/unused")
	t.Setenv("JWT_SECRET", "ctl-test-secret")
	t.Setenv("APP_ENV", "test")

	var out bytes.Buffer
	root := newRootCmd(&app{})
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--tenant", "t1", "--user", "u-9", "--role", "supplier", "--party", "sup-1"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	token := strings.TrimSpace(out.String())
	p, err := auth.NewService(nil, "ctl-test-secret").VerifyToken(token)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if p.TenantID != "t1" || p.UserID != "u-9" || p.SupplierID() != "sup-1" {
		t.Fatalf("unexpected principal %+v", p)
	}
}

func TestTokenCommandRequiresTenantAndUser(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://unused@localhost/unused")

	root := newRootCmd(&app{})
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"token", "--role", "buyer"})
	if err := root.Execute(); err == nil || !strings.Contains(err.Error(), "--tenant") {
		t.Fatalf("expected missing flag error, got %v", err)
	}
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd(&app{})
	for _, path := range [][]string{{"migrate", "up"}, {"migrate", "status"}, {"sweep"}, {"relay"}, {"token"}, {"user", "add"}} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Fatalf("expected command %v, got %v (%v)", path, cmd, err)
		}
	}
}
