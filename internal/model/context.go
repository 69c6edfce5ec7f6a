package model

import (
	"errors"
	"fmt"
)

// Common validation errors for editing contexts.
var (
	// ErrInvalidContext is returned when a context is missing required fields.
	ErrInvalidContext = errors.New("invalid editing context")
)

// OrgContext identifies a single organisation. It is used as a lock scope
// key for org-wide serialisation and as the parameter of per-org sweep jobs.
type OrgContext struct {
	// Org is the short name of the organisation (e.g. "ttd").
	Org string `json:"org"`
}

// NewOrgContext creates an OrgContext, validating that the organisation
// name is present.
func NewOrgContext(org string) (OrgContext, error) {
	if org == "" {
		return OrgContext{}, fmt.Errorf("%w: org is required", ErrInvalidContext)
	}
	return OrgContext{Org: org}, nil
}

// LockKey returns the fleet-wide lock resource name for this organisation.
// Every instance must derive the same key for the same organisation, so the
// format is fixed here and nowhere else.
func (c OrgContext) LockKey() string {
	return "org:" + c.Org
}

// Validate checks that the context carries an organisation name.
func (c OrgContext) Validate() error {
	if c.Org == "" {
		return fmt.Errorf("%w: org is required", ErrInvalidContext)
	}
	return nil
}

// RepoEditingContext identifies a (organisation, repository, developer)
// triple: one repository under edit by one developer. It is a narrower lock
// scope than OrgContext; two developers editing the same repository proceed
// concurrently, but one developer never runs two mutating requests on the
// same repository at once.
type RepoEditingContext struct {
	// Org is the short name of the organisation that owns the repository.
	Org string `json:"org"`

	// Repo is the name of the repository (the app) being edited.
	Repo string `json:"repo"`

	// Developer is the identity of the editing user.
	Developer string `json:"developer"`
}

// NewRepoEditingContext creates a RepoEditingContext, validating that all
// three parts are present.
func NewRepoEditingContext(org, repo, developer string) (RepoEditingContext, error) {
	ctx := RepoEditingContext{Org: org, Repo: repo, Developer: developer}
	if err := ctx.Validate(); err != nil {
		return RepoEditingContext{}, err
	}
	return ctx, nil
}

// LockKey returns the fleet-wide lock resource name for this editing triple.
func (c RepoEditingContext) LockKey() string {
	return fmt.Sprintf("repo-user:%s/%s/%s", c.Org, c.Repo, c.Developer)
}

// Validate checks that all three parts of the triple are present.
func (c RepoEditingContext) Validate() error {
	if c.Org == "" {
		return fmt.Errorf("%w: org is required", ErrInvalidContext)
	}
	if c.Repo == "" {
		return fmt.Errorf("%w: repo is required", ErrInvalidContext)
	}
	if c.Developer == "" {
		return fmt.Errorf("%w: developer is required", ErrInvalidContext)
	}
	return nil
}
