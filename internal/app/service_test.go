package app

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/timeers/root-website-sub000/internal/config"
	"github.com/timeers/root-website-sub000/internal/laws"
	"github.com/timeers/root-website-sub000/internal/lawsync"
	"github.com/timeers/root-website-sub000/internal/rbac"
	"github.com/timeers/root-website-sub000/internal/store"
)

func TestActorNeedsTokenForAdmin(t *testing.T) {
	svc := &Service{cfg: config.Config{AdminToken: "secret"}}
	tests := []struct {
		name     string
		id, role string
		token    string
		want     rbac.Role
	}{
		{name: "anonymous", want: rbac.RoleViewer},
		{name: "designer", id: "d1", role: "designer", want: rbac.RoleDesigner},
		{name: "claimed admin", id: "d1", role: "admin", want: rbac.RoleDesigner},
		{name: "wrong token", id: "d1", token: "nope", want: rbac.RoleViewer},
		{name: "admin token", id: "root", token: "secret", want: rbac.RoleAdmin},
		{name: "unknown role", role: "owner", want: rbac.RoleViewer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			actor := svc.Actor(tc.id, tc.role, tc.token)
			if actor.Role != tc.want || actor.ID != tc.id {
				t.Fatalf("Actor() = %+v, want role %s", actor, tc.want)
			}
		})
	}
}

func TestActorWithoutConfiguredTokenIsNeverAdmin(t *testing.T) {
	svc := &Service{}
	if actor := svc.Actor("root", "", ""); actor.IsAdmin() {
		t.Fatal("empty admin token granted admin")
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", fmt.Errorf("get law 3: %w", store.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"locked", laws.ErrPositionLocked, http.StatusConflict, "POSITION_LOCKED"},
		{"active rules file", fmt.Errorf("ignore: %w", lawsync.ErrRulesFileActive), http.StatusConflict, "RULES_FILE_ACTIVE"},
		{"forbidden upstream", &lawsync.UpstreamError{Op: "list", Path: "rules", Status: http.StatusForbidden}, http.StatusBadGateway, "UPSTREAM_FORBIDDEN"},
		{"upstream failure", &lawsync.UpstreamError{Op: "list", Path: "rules", Status: http.StatusInternalServerError}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"domain", domainError(http.StatusTeapot, "TEAPOT", "short and stout", nil), http.StatusTeapot, "TEAPOT"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _, _ := mapError(tc.err)
			if status != tc.wantStatus || code != tc.wantCode {
				t.Fatalf("mapError() = %d %s, want %d %s", status, code, tc.wantStatus, tc.wantCode)
			}
		})
	}
}
