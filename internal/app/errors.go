package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/timeers/root-website-sub000/internal/laws"
	"github.com/timeers/root-website-sub000/internal/lawsync"
	"github.com/timeers/root-website-sub000/internal/lawyaml"
	"github.com/timeers/root-website-sub000/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errorTable = []struct {
	target error
	status int
	code   string
}{
	{store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{laws.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{laws.ErrInvalidInput, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{lawyaml.ErrEmptyDocument, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{laws.ErrInvalidParent, http.StatusUnprocessableEntity, "INVALID_TREE_EDIT"},
	{laws.ErrInvalidNeighbors, http.StatusUnprocessableEntity, "INVALID_TREE_EDIT"},
	{laws.ErrSubLawsNotAllowed, http.StatusUnprocessableEntity, "INVALID_TREE_EDIT"},
	{laws.ErrDescriptionNotAllowed, http.StatusUnprocessableEntity, "INVALID_TREE_EDIT"},
	{laws.ErrPrimeLawExists, http.StatusConflict, "PRIME_LAW_EXISTS"},
	{laws.ErrPrimeLawDelete, http.StatusConflict, "PRIME_LAW_DELETE"},
	{laws.ErrPositionLocked, http.StatusConflict, "POSITION_LOCKED"},
	{lawyaml.ErrNoPrimeLaw, http.StatusConflict, "NO_PRIME_LAW"},
	{lawsync.ErrRulesFileArchived, http.StatusConflict, "RULES_FILE_ARCHIVED"},
	{lawsync.ErrRulesFileActive, http.StatusConflict, "RULES_FILE_ACTIVE"},
	{lawsync.ErrStructureMismatch, http.StatusConflict, "STRUCTURE_MISMATCH"},
	{lawsync.ErrNoUpstream, http.StatusServiceUnavailable, "SYNC_UNAVAILABLE"},
	{lawsync.ErrUpstreamForbidden, http.StatusBadGateway, "UPSTREAM_FORBIDDEN"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	for _, entry := range errorTable {
		if errors.Is(err, entry.target) {
			return entry.status, entry.code, err.Error(), nil
		}
	}
	var upstreamErr *lawsync.UpstreamError
	if errors.As(err, &upstreamErr) {
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Upstream request failed", map[string]any{"status": upstreamErr.Status}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
