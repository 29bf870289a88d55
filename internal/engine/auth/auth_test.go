package auth

import (
	"errors"
	"testing"
)

func TestPolicyOpenWhenNoAdmins(t *testing.T) {
	p := Policy{}
	if err := p.Require("anyone", PermManage); err != nil {
		t.Fatalf("expected open policy, got %v", err)
	}
	if err := p.Require("", PermRead); err == nil {
		t.Fatalf("anonymous actor must be rejected")
	}
}

func TestPolicyMembersCannotManage(t *testing.T) {
	p := Policy{Admins: []string{"Ops"}}
	if err := p.Require("ops", PermManage); err != nil {
		t.Fatalf("admin match should be case-insensitive: %v", err)
	}
	err := p.Require("player", PermManage)
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != PermManage || fe.ActorID != "player" {
		t.Fatalf("expected forbidden error, got %v", err)
	}
	for _, perm := range []string{PermRead, PermClaim, PermVerify} {
		if err := p.Require("player", perm); err != nil {
			t.Fatalf("member should hold %s: %v", perm, err)
		}
	}
}
