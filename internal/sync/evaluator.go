// Package sync serialises mutating designer requests that share state:
// org-wide for organisation configuration, or per (org, repo, developer)
// for repository edits. Read-only traffic is never synchronised.
package sync

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/studio-ops/coordinator/internal/model"
)

// DeveloperHeader carries the identity of the editing user. Authentication
// itself happens upstream; by the time a request reaches this service the
// header is trusted.
const DeveloperHeader = "X-Studio-Developer"

// OrgEvaluator decides whether org-wide synchronisation applies to a
// request and, if so, for which organisation.
type OrgEvaluator interface {
	Evaluate(r *http.Request) (model.OrgContext, bool)
}

// RepoUserEvaluator decides whether repo-user-wide synchronisation applies
// to a request and, if so, for which (org, repo, developer) triple.
type RepoUserEvaluator interface {
	Evaluate(r *http.Request) (model.RepoEditingContext, bool)
}

// mutating reports whether the request can change server-side state.
func mutating(r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// OrgScopeEvaluator matches mutating requests on org-level routes: routes
// that carry an {org} URL parameter but no {app}. Those mutate state shared
// by the whole organisation and must never run concurrently per org.
type OrgScopeEvaluator struct{}

// Evaluate implements OrgEvaluator.
func (OrgScopeEvaluator) Evaluate(r *http.Request) (model.OrgContext, bool) {
	if !mutating(r) {
		return model.OrgContext{}, false
	}

	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return model.OrgContext{}, false
	}

	org := rctx.URLParam("org")
	app := rctx.URLParam("app")
	if org == "" || app != "" {
		return model.OrgContext{}, false
	}

	return model.OrgContext{Org: org}, true
}

// RepoUserScopeEvaluator matches mutating requests on a specific repository
// by a specific developer. Concurrent edits from the same developer on the
// same repository would corrupt repository state (concurrent git
// operations), so they are serialised; distinct developers on the same org
// proceed concurrently.
type RepoUserScopeEvaluator struct{}

// Evaluate implements RepoUserEvaluator.
func (RepoUserScopeEvaluator) Evaluate(r *http.Request) (model.RepoEditingContext, bool) {
	if !mutating(r) {
		return model.RepoEditingContext{}, false
	}

	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return model.RepoEditingContext{}, false
	}

	org := rctx.URLParam("org")
	app := rctx.URLParam("app")
	developer := r.Header.Get(DeveloperHeader)
	if org == "" || app == "" || developer == "" {
		return model.RepoEditingContext{}, false
	}

	return model.RepoEditingContext{Org: org, Repo: app, Developer: developer}, true
}
