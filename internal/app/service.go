package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/timeers/root-website-sub000/internal/config"
	"github.com/timeers/root-website-sub000/internal/laws"
	"github.com/timeers/root-website-sub000/internal/lawsync"
	"github.com/timeers/root-website-sub000/internal/lawyaml"
	"github.com/timeers/root-website-sub000/internal/rbac"
	"github.com/timeers/root-website-sub000/internal/search"
	"github.com/timeers/root-website-sub000/internal/store"
)

// Service is the facade the HTTP handler talks to. It resolves languages and
// actors, then hands off to the domain services.
type Service struct {
	cfg        config.Config
	repo       store.Repository
	laws       *laws.Service
	sync       *lawsync.Service
	search     *search.Service
	serializer *lawyaml.Serializer
}

type Deps struct {
	Repo   store.Repository
	Laws   *laws.Service
	Sync   *lawsync.Service
	Search *search.Service
}

func NewService(cfg config.Config, deps Deps) *Service {
	if deps.Search == nil {
		deps.Search = search.NewService(nil, search.NewScanSearcher(deps.Repo))
	}
	return &Service{
		cfg:        cfg,
		repo:       deps.Repo,
		laws:       deps.Laws,
		sync:       deps.Sync,
		search:     deps.Search,
		serializer: lawyaml.NewSerializer(deps.Repo),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Actor builds the caller identity. The surrounding site passes the user id
// and role; admin rights need the configured admin token.
func (s *Service) Actor(actorID, role, adminToken string) rbac.Actor {
	actor := rbac.Actor{ID: strings.TrimSpace(actorID), Role: rbac.Normalize(strings.TrimSpace(role))}
	if actor.Role == rbac.RoleAdmin {
		actor.Role = rbac.RoleDesigner
	}
	if adminToken != "" && s.cfg.AdminToken != "" &&
		subtle.ConstantTimeCompare([]byte(adminToken), []byte(s.cfg.AdminToken)) == 1 {
		actor.Role = rbac.RoleAdmin
	}
	return actor
}

func (s *Service) Language(ctx context.Context, code string) (store.Language, error) {
	language, err := s.repo.GetLanguage(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return store.Language{}, domainError(http.StatusNotFound, "UNKNOWN_LANGUAGE", fmt.Sprintf("Unknown language %q", code), nil)
	}
	return language, err
}

func (s *Service) ListLanguages(ctx context.Context) ([]store.Language, error) {
	return s.repo.ListLanguages(ctx)
}

// ListGroups hides non-public groups from everyone but admins.
func (s *Service) ListGroups(ctx context.Context, actor rbac.Actor, groupType store.GroupType) ([]store.LawGroup, error) {
	if groupType != "" && !groupType.Valid() {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown group type", nil)
	}
	return s.laws.ListGroups(ctx, store.GroupFilter{Type: groupType, PublicOnly: !actor.IsAdmin()})
}

func (s *Service) GetGroup(ctx context.Context, actor rbac.Actor, groupID int64) (store.LawGroup, error) {
	group, err := s.laws.GetGroup(ctx, groupID)
	if err != nil {
		return store.LawGroup{}, err
	}
	if !group.Public && !rbac.CanEditGroup(actor, group) {
		return store.LawGroup{}, store.ErrNotFound
	}
	return group, nil
}

func (s *Service) CreateGroup(ctx context.Context, actor rbac.Actor, in laws.CreateGroupInput) (store.LawGroup, error) {
	return s.laws.CreateGroup(ctx, actor, in)
}

func (s *Service) UpdateGroup(ctx context.Context, actor rbac.Actor, groupID int64, in laws.UpdateGroupInput) (store.LawGroup, error) {
	return s.laws.UpdateGroup(ctx, actor, groupID, in)
}

func (s *Service) DeleteGroup(ctx context.Context, actor rbac.Actor, groupID int64) error {
	return s.laws.DeleteGroup(ctx, actor, groupID)
}

func (s *Service) MoveGroup(ctx context.Context, actor rbac.Actor, groupID int64, up bool) (store.LawGroup, error) {
	return s.laws.MoveGroup(ctx, actor, groupID, up)
}

// GroupLaws returns the whole tree of a group in one language.
func (s *Service) GroupLaws(ctx context.Context, actor rbac.Actor, groupID int64, languageCode string) ([]store.Law, error) {
	if _, err := s.GetGroup(ctx, actor, groupID); err != nil {
		return nil, err
	}
	language, err := s.Language(ctx, languageCode)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTreeLaws(ctx, groupID, language.ID)
}

func (s *Service) InitializeGroup(ctx context.Context, actor rbac.Actor, groupID int64, languageCode string) ([]store.Law, error) {
	language, err := s.Language(ctx, languageCode)
	if err != nil {
		return nil, err
	}
	return s.laws.InitializeGroup(ctx, actor, groupID, language.ID)
}

func (s *Service) WipeGroupLanguage(ctx context.Context, actor rbac.Actor, groupID int64, languageCode string) ([]int64, error) {
	language, err := s.Language(ctx, languageCode)
	if err != nil {
		return nil, err
	}
	return s.laws.WipeGroupLanguage(ctx, actor, groupID, language.ID)
}

// ExportGroup renders a group in the upstream YAML schema.
func (s *Service) ExportGroup(ctx context.Context, actor rbac.Actor, groupID int64, languageCode string, includeIDs bool) ([]byte, error) {
	if _, err := s.GetGroup(ctx, actor, groupID); err != nil {
		return nil, err
	}
	language, err := s.Language(ctx, languageCode)
	if err != nil {
		return nil, err
	}
	prime, err := s.repo.GetPrimeLaw(ctx, groupID, language.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, lawyaml.ErrNoPrimeLaw
	}
	if err != nil {
		return nil, err
	}
	nodes, err := s.serializer.SerializeGroup(ctx, &prime, includeIDs)
	if err != nil {
		return nil, err
	}
	return lawyaml.Encode(nodes)
}

// ExportLanguage renders the whole rulebook of one language.
func (s *Service) ExportLanguage(ctx context.Context, languageCode string, includeIDs bool) ([]byte, error) {
	language, err := s.Language(ctx, languageCode)
	if err != nil {
		return nil, err
	}
	nodes, err := s.serializer.ExportLanguage(ctx, language.ID, includeIDs)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "No laws in this language", nil)
	}
	return lawyaml.Encode(nodes)
}

func (s *Service) GetLaw(ctx context.Context, lawID int64) (store.Law, []store.Law, error) {
	law, err := s.laws.GetLaw(ctx, lawID)
	if err != nil {
		return store.Law{}, nil, err
	}
	cited, err := s.repo.ListReferences(ctx, lawID)
	if err != nil {
		return store.Law{}, nil, err
	}
	return law, cited, nil
}

func (s *Service) CreateLaw(ctx context.Context, actor rbac.Actor, in laws.CreateLawInput) (store.Law, error) {
	return s.laws.Create(ctx, actor, in)
}

func (s *Service) UpdateLaw(ctx context.Context, actor rbac.Actor, lawID int64, in laws.UpdateLawInput) (store.Law, error) {
	return s.laws.Update(ctx, actor, lawID, in)
}

func (s *Service) DeleteLaw(ctx context.Context, actor rbac.Actor, lawID int64) ([]int64, error) {
	return s.laws.Delete(ctx, actor, lawID)
}

func (s *Service) MoveLaw(ctx context.Context, actor rbac.Actor, lawID int64, direction string, prevID, nextID *int64) (store.Law, error) {
	switch direction {
	case "move-up":
		return s.laws.MoveUp(ctx, actor, lawID)
	case "move-down":
		return s.laws.MoveDown(ctx, actor, lawID)
	case "move":
		return s.laws.MoveLaw(ctx, actor, lawID, prevID, nextID)
	default:
		return store.Law{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *Service) UploadRules(ctx context.Context, actor rbac.Actor, languageCode string, data []byte) (store.RulesFile, lawsync.Report, error) {
	language, err := s.Language(ctx, languageCode)
	if err != nil {
		return store.RulesFile{}, lawsync.Report{}, err
	}
	return s.sync.UploadRules(ctx, actor, language, data)
}

// SyncRules fetches the newest upstream rules file of one language.
func (s *Service) SyncRules(ctx context.Context, actor rbac.Actor, languageCode string) (bool, error) {
	if !actor.IsAdmin() {
		return false, laws.ErrForbidden
	}
	language, err := s.Language(ctx, languageCode)
	if err != nil {
		return false, err
	}
	return s.sync.SyncGithubRules(ctx, language)
}

func (s *Service) ListRulesFiles(ctx context.Context, languageCode string, status store.RulesFileStatus) ([]store.RulesFile, error) {
	filter := store.RulesFileFilter{Status: status}
	if languageCode != "" {
		language, err := s.Language(ctx, languageCode)
		if err != nil {
			return nil, err
		}
		filter.LanguageID = language.ID
	}
	return s.sync.ListRulesFiles(ctx, filter)
}

func (s *Service) ApplyRulesFile(ctx context.Context, actor rbac.Actor, fileID int64) (store.RulesFile, lawsync.Report, error) {
	return s.sync.ApplyRulesFile(ctx, actor, fileID)
}

func (s *Service) IgnoreRulesFile(ctx context.Context, actor rbac.Actor, fileID int64) (store.RulesFile, error) {
	return s.sync.IgnoreRulesFile(ctx, actor, fileID)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	return s.search.Search(ctx, q)
}

func (s *Service) Reindex(ctx context.Context, actor rbac.Actor) (int, error) {
	if !actor.IsAdmin() {
		return 0, laws.ErrForbidden
	}
	n, err := s.search.ReindexAll(ctx, s.repo)
	if err != nil {
		return 0, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", err.Error(), nil)
	}
	return n, nil
}
