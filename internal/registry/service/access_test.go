package service_test

import (
	"testing"

	"github.com/gatewaylabs/toolgate/internal/registry/model"
	"github.com/gatewaylabs/toolgate/internal/registry/service"
)

func visAgent(path string, vis model.Visibility, owner string, groups ...string) *model.Agent {
	a := &model.Agent{
		Path:          path,
		Visibility:    vis,
		AllowedGroups: groups,
		TrustLevel:    model.TrustUnverified,
		RegisteredBy:  owner,
	}
	a.Name = "Agent"
	a.URL = "http://localhost:9200"
	return a
}

func TestCanAccessAgent(t *testing.T) {
	admin := &model.UserContext{Username: "root", IsAdmin: true}
	alice := &model.UserContext{
		Username:         "alice",
		Groups:           []string{"research"},
		AccessibleAgents: []string{"all"},
	}
	bob := &model.UserContext{
		Username:         "bob",
		Groups:           []string{"ops"},
		AccessibleAgents: []string{"/summarizer"},
	}
	noClaims := &model.UserContext{Username: "carol"}

	cases := []struct {
		name  string
		agent *model.Agent
		user  *model.UserContext
		want  bool
	}{
		{"admin sees private", visAgent("/x", model.VisibilityPrivate, "alice"), admin, true},
		{"public with all claim", visAgent("/x", model.VisibilityPublic, "alice"), alice, true},
		{"public without claim", visAgent("/x", model.VisibilityPublic, "alice"), noClaims, false},
		{"public with matching path claim", visAgent("/summarizer", model.VisibilityPublic, "alice"), bob, true},
		{"public with non-matching path claim", visAgent("/other", model.VisibilityPublic, "alice"), bob, false},
		{"private owner", visAgent("/x", model.VisibilityPrivate, "alice"), alice, true},
		{"private non-owner", visAgent("/summarizer", model.VisibilityPrivate, "alice"), bob, false},
		{"group-restricted member", visAgent("/x", model.VisibilityGroupRestricted, "alice", "research"), alice, true},
		{"group-restricted non-member", visAgent("/summarizer", model.VisibilityGroupRestricted, "alice", "research"), bob, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := service.CanAccessAgent(tc.agent, tc.user); got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFilterAgents(t *testing.T) {
	alice := &model.UserContext{
		Username:         "alice",
		AccessibleAgents: []string{"all"},
	}
	agents := []*model.Agent{
		visAgent("/a", model.VisibilityPublic, "bob"),
		visAgent("/b", model.VisibilityPrivate, "bob"),
		visAgent("/c", model.VisibilityPublic, "alice"),
	}
	got := service.FilterAgents(agents, alice)
	if len(got) != 2 {
		t.Fatalf("visible agents: got %d, want 2", len(got))
	}
	if got[0].Path != "/a" || got[1].Path != "/c" {
		t.Errorf("order not preserved: %s, %s", got[0].Path, got[1].Path)
	}
}
