package auth

import (
	"fmt"
	"strings"
)

// Permissions checked by the engine.
const (
	PermManage = "allocation.manage"
	PermRead   = "allocation.read"
	PermClaim  = "claims.write"
	PermVerify = "verify.run"
)

var memberPermissions = []string{PermRead, PermClaim, PermVerify}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	ActorID    string
	Permission string
}

func (e ForbiddenError) Error() string {
	if e.ActorID == "" {
		return fmt.Sprintf("permission %s required", e.Permission)
	}
	return fmt.Sprintf("actor %s lacks permission %s", e.ActorID, e.Permission)
}

// Policy grants every permission to admins and the member set to everyone
// else. With no admins listed every actor is treated as an admin.
type Policy struct {
	Admins []string
}

func (p Policy) IsAdmin(actorID string) bool {
	if len(p.Admins) == 0 {
		return true
	}
	for _, a := range p.Admins {
		if strings.EqualFold(strings.TrimSpace(a), actorID) {
			return true
		}
	}
	return false
}

// Permissions lists what actorID may do.
func (p Policy) Permissions(actorID string) []string {
	if p.IsAdmin(actorID) {
		return append([]string{PermManage}, memberPermissions...)
	}
	return append([]string(nil), memberPermissions...)
}

// Require returns ForbiddenError unless actorID holds perm.
func (p Policy) Require(actorID, perm string) error {
	if strings.TrimSpace(actorID) == "" {
		return ForbiddenError{Permission: perm}
	}
	for _, have := range p.Permissions(actorID) {
		if have == perm {
			return nil
		}
	}
	return ForbiddenError{ActorID: actorID, Permission: perm}
}
