package lawsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/timeers/root-website-sub000/internal/laws"
	"github.com/timeers/root-website-sub000/internal/lawyaml"
	"github.com/timeers/root-website-sub000/internal/notify"
	"github.com/timeers/root-website-sub000/internal/rbac"
	"github.com/timeers/root-website-sub000/internal/store"
	"github.com/timeers/root-website-sub000/internal/util"
)

var (
	ErrRulesFileArchived = errors.New("rules file is archived")
	ErrRulesFileActive   = errors.New("rules file is active")
)

// UploadVersion is the version recorded for rules files uploaded by hand.
const UploadVersion = "upload"

func (s *Service) ListRulesFiles(ctx context.Context, filter store.RulesFileFilter) ([]store.RulesFile, error) {
	return s.repo.ListRulesFiles(ctx, filter)
}

func (s *Service) language(ctx context.Context, languageID int64) (store.Language, error) {
	languages, err := s.repo.ListLanguages(ctx)
	if err != nil {
		return store.Language{}, err
	}
	for _, language := range languages {
		if language.ID == languageID {
			return language, nil
		}
	}
	return store.Language{}, fmt.Errorf("language %d: %w", languageID, store.ErrNotFound)
}

// UploadRules stores a hand-uploaded rules document as a New rules file and
// applies it right away.
func (s *Service) UploadRules(ctx context.Context, actor rbac.Actor, language store.Language, data []byte) (store.RulesFile, Report, error) {
	if !actor.IsAdmin() {
		return store.RulesFile{}, Report{}, laws.ErrForbidden
	}
	if _, err := lawyaml.Decode(data); err != nil {
		return store.RulesFile{}, Report{}, fmt.Errorf("%w: %v", laws.ErrInvalidInput, err)
	}
	sum := sha256.Sum256(data)
	sha := hex.EncodeToString(sum[:])
	file := store.RulesFile{
		Version:    UploadVersion,
		SHA:        sha,
		CommitDate: s.now().UTC(),
		LanguageID: language.ID,
		Status:     store.RulesFileNew,
		FileKey:    util.ObjectKey("rules", language.Code, UploadVersion, sha+".yml"),
	}
	if err := s.blobs.Put(ctx, file.FileKey, data, "application/yaml"); err != nil {
		return store.RulesFile{}, Report{}, fmt.Errorf("upload rules: store blob: %w", err)
	}
	if err := s.repo.InsertRulesFile(ctx, &file); err != nil {
		return store.RulesFile{}, Report{}, fmt.Errorf("upload rules: %w", err)
	}
	return s.ApplyRulesFile(ctx, actor, file.ID)
}

// ApplyRulesFile reconciles the stored trees with a rules file. On success the
// file becomes the Active one of its language, the previous Active file is
// archived and the document is committed to the rules archive.
func (s *Service) ApplyRulesFile(ctx context.Context, actor rbac.Actor, fileID int64) (store.RulesFile, Report, error) {
	if !actor.IsAdmin() {
		return store.RulesFile{}, Report{}, laws.ErrForbidden
	}
	file, err := s.repo.GetRulesFile(ctx, fileID)
	if err != nil {
		return store.RulesFile{}, Report{}, err
	}
	if file.Status == store.RulesFileArchive {
		return file, Report{}, ErrRulesFileArchived
	}
	language, err := s.language(ctx, file.LanguageID)
	if err != nil {
		return file, Report{}, err
	}
	data, err := s.blobs.Get(ctx, file.FileKey)
	if err != nil {
		return file, Report{}, fmt.Errorf("apply rules file %d: %w", file.ID, err)
	}
	nodes, err := lawyaml.Decode(data)
	if err != nil {
		return file, Report{}, fmt.Errorf("apply rules file %d: %w", file.ID, err)
	}

	activate := func(ctx context.Context, tx store.Repository) error {
		current, err := tx.GetRulesFile(ctx, file.ID)
		if err != nil {
			return err
		}
		if current.Status == store.RulesFileArchive {
			return ErrRulesFileArchived
		}
		active, err := tx.ListRulesFiles(ctx, store.RulesFileFilter{LanguageID: file.LanguageID, Status: store.RulesFileActive})
		if err != nil {
			return err
		}
		for _, previous := range active {
			if previous.ID == file.ID || previous.ContentItemID != nil {
				continue
			}
			if err := tx.UpdateRulesFileStatus(ctx, previous.ID, store.RulesFileArchive); err != nil {
				return err
			}
		}
		if err := tx.UpdateRulesFileStatus(ctx, file.ID, store.RulesFileActive); err != nil {
			return fmt.Errorf("activate rules file %d: %w", file.ID, err)
		}
		return nil
	}
	report, err := s.reconcile(ctx, nodes, language, activate)
	if err != nil || !report.Applied {
		return file, report, err
	}
	file.Status = store.RulesFileActive

	if s.archive != nil {
		message := fmt.Sprintf("Apply rules %s (%s)", file.Version, shortSHA(file.SHA))
		if _, err := s.archive.CommitRules(language.Code, file.Version, data, actor.ID, message); err != nil {
			s.logf("lawsync: archive rules file %d: %v", file.ID, err)
		}
	}
	s.notify(ctx, notify.Event{
		Kind:     notify.EventRulesApplied,
		Actor:    actor.ID,
		Language: language.Code,
		Title:    file.Version,
		Detail:   fmt.Sprintf("%d laws updated, %d groups created", report.Updated, report.Created),
	})
	return file, report, nil
}

// IgnoreRulesFile archives a New rules file without applying it. The Active
// file of a language is only replaced by applying another one.
func (s *Service) IgnoreRulesFile(ctx context.Context, actor rbac.Actor, fileID int64) (store.RulesFile, error) {
	if !actor.IsAdmin() {
		return store.RulesFile{}, laws.ErrForbidden
	}
	var file store.RulesFile
	err := s.repo.InTx(ctx, func(tx store.Repository) error {
		var err error
		file, err = tx.GetRulesFile(ctx, fileID)
		if err != nil {
			return err
		}
		switch file.Status {
		case store.RulesFileArchive:
			return ErrRulesFileArchived
		case store.RulesFileActive:
			return ErrRulesFileActive
		}
		if err := tx.UpdateRulesFileStatus(ctx, fileID, store.RulesFileArchive); err != nil {
			return err
		}
		file.Status = store.RulesFileArchive
		return nil
	})
	if err != nil {
		return store.RulesFile{}, err
	}
	return file, nil
}
