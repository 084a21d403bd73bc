package lawsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/timeers/root-website-sub000/internal/lawdiff"
	"github.com/timeers/root-website-sub000/internal/laws"
	"github.com/timeers/root-website-sub000/internal/lawyaml"
	"github.com/timeers/root-website-sub000/internal/lock"
	"github.com/timeers/root-website-sub000/internal/notify"
	"github.com/timeers/root-website-sub000/internal/refs"
	"github.com/timeers/root-website-sub000/internal/store"
)

// ErrStructureMismatch is returned by UpdateLawsByStructure when the two trees
// do not line up node for node.
var ErrStructureMismatch = errors.New("structure mismatch")

// errAborted rolls back a reconciliation that found mismatches.
var errAborted = errors.New("reconciliation aborted")

// Report is the outcome of one reconciliation. Mismatches are keyed by the
// uploaded group name. Nothing is written unless Applied is true.
type Report struct {
	Applied    bool                `json:"applied"`
	Mismatches map[string][]string `json:"mismatches,omitempty"`
	Errors     []string            `json:"errors,omitempty"`
	Created    int                 `json:"createdGroups"`
	Updated    int                 `json:"updatedLaws"`
}

func (r Report) OK() bool {
	return len(r.Mismatches) == 0 && len(r.Errors) == 0
}

type bucket string

const (
	bucketMatched   bucket = "matched"
	bucketUnmatched bucket = "unmatched"
	bucketAppendix  bucket = "appendix"
)

// groupPlan ties one uploaded root entry to the group it updates. A plan
// whose group has no ID creates that group during apply.
type groupPlan struct {
	bucket   bucket
	ordinal  int
	uploaded lawyaml.Node
	group    store.LawGroup
}

// bucketize sorts the uploaded entries into appendices, entries without a
// backing content item (placeholder color) and the rest. Ordinals count the
// non-appendix entries from 1 and line up with store.OfficialOrdinals.
func bucketize(uploaded []lawyaml.Node) []groupPlan {
	plans := make([]groupPlan, 0, len(uploaded))
	ordinal := 0
	for _, node := range uploaded {
		plan := groupPlan{uploaded: node}
		switch {
		case node.Appendix:
			plan.bucket = bucketAppendix
		case node.Color == "" || strings.EqualFold(node.Color, lawyaml.NoContentColor):
			ordinal++
			plan.bucket, plan.ordinal = bucketUnmatched, ordinal
		default:
			ordinal++
			plan.bucket, plan.ordinal = bucketMatched, ordinal
		}
		plans = append(plans, plan)
	}
	return plans
}

func (p groupPlan) accepts(group store.LawGroup) bool {
	switch p.bucket {
	case bucketAppendix:
		return group.Type == store.GroupAppendix
	case bucketUnmatched:
		return group.Type == store.GroupOfficial && group.ContentItemID == nil
	default:
		return group.Type == store.GroupOfficial && group.ContentItemID != nil
	}
}

// resolveGroups finds the existing group for every plan, first by name (group
// title or prime law title) and then by ordinal. Plans left without a group
// get a new one to create.
func resolveGroups(ctx context.Context, repo store.Repository, plans []groupPlan, languageID int64) ([]string, error) {
	groups, err := repo.ListGroups(ctx, store.GroupFilter{})
	if err != nil {
		return nil, err
	}
	ordinals := store.OfficialOrdinals(groups)
	names := make(map[int64][]string, len(groups))
	for _, group := range groups {
		names[group.ID] = append(names[group.ID], lawdiff.NormalizeName(group.Title))
		prime, err := repo.GetPrimeLaw(ctx, group.ID, languageID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		names[group.ID] = append(names[group.ID], lawdiff.NormalizeName(refs.Outbound(prime.Title)))
	}

	claimed := map[int64]string{}
	var problems []string
	claim := func(plan *groupPlan, group store.LawGroup) {
		if other, taken := claimed[group.ID]; taken {
			problems = append(problems, fmt.Sprintf("%s: group %q is already matched by %q", plan.uploaded.Name, group.Title, other))
			return
		}
		claimed[group.ID] = plan.uploaded.Name
		plan.group = group
	}

	for i := range plans {
		plan := &plans[i]
		want := lawdiff.NormalizeName(plan.uploaded.Name)
		for _, group := range groups {
			if plan.accepts(group) && contains(names[group.ID], want) {
				claim(plan, group)
				break
			}
		}
	}
	for i := range plans {
		plan := &plans[i]
		if plan.group.ID != 0 || plan.bucket == bucketAppendix {
			continue
		}
		for _, group := range groups {
			if _, taken := claimed[group.ID]; taken {
				continue
			}
			if plan.accepts(group) && ordinals[group.ID] == plan.ordinal {
				claim(plan, group)
				break
			}
		}
	}

	for i := range plans {
		plan := &plans[i]
		if plan.group.ID != 0 {
			continue
		}
		plan.group = store.LawGroup{Title: plan.uploaded.Name, Type: store.GroupOfficial, Public: true}
		if plan.bucket == bucketAppendix {
			plan.group.Type = store.GroupAppendix
		}
		if plan.bucket == bucketMatched {
			plan.group.Color = plan.uploaded.Color
		}
	}
	return problems, nil
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}

func validateNames(nodes []lawyaml.Node, path string) []string {
	var problems []string
	for i, node := range nodes {
		if strings.TrimSpace(node.Name) == "" {
			problems = append(problems, fmt.Sprintf("%s[%d]: node has no name", path, i))
			continue
		}
		problems = append(problems, validateNames(node.Children, path+"/"+node.Name)...)
	}
	return problems
}

// UpdateLawsFromYAML reconciles a whole uploaded rules document with the
// stored trees of one language. Every group is diffed first; the batch is
// applied in a single transaction only when no group reports a mismatch or
// error. Groups missing from the store are imported from the upload.
func (s *Service) UpdateLawsFromYAML(ctx context.Context, uploaded []lawyaml.Node, language store.Language) (Report, error) {
	return s.reconcile(ctx, uploaded, language, nil)
}

// reconcile implements UpdateLawsFromYAML. A non-nil commit func runs inside
// the apply transaction after every law update, so its writes land or roll
// back together with them.
func (s *Service) reconcile(ctx context.Context, uploaded []lawyaml.Node, language store.Language, commit func(ctx context.Context, tx store.Repository) error) (Report, error) {
	report := Report{Mismatches: map[string][]string{}}
	if len(uploaded) == 0 {
		return report, lawyaml.ErrEmptyDocument
	}
	report.Errors = validateNames(uploaded, "")
	if !report.OK() {
		s.metrics.Applies.WithLabelValues("error").Inc()
		return report, nil
	}

	plans := bucketize(uploaded)
	problems, err := resolveGroups(ctx, s.repo, plans, language.ID)
	if err != nil {
		return report, fmt.Errorf("update laws from yaml: %w", err)
	}
	report.Errors = append(report.Errors, problems...)
	if !report.OK() {
		s.metrics.Applies.WithLabelValues("error").Inc()
		return report, nil
	}

	var keys []string
	for _, plan := range plans {
		if plan.group.ID != 0 {
			keys = append(keys, lock.TreeKey(plan.group.ID, language.ID))
		}
	}
	release, err := lock.LockAll(ctx, s.locker, keys)
	if err != nil {
		return report, fmt.Errorf("update laws from yaml: %w", err)
	}
	defer release()

	var touched []store.LawGroup
	err = s.repo.InTx(ctx, func(tx store.Repository) error {
		if err := lockTrees(ctx, tx, plans, language.ID); err != nil {
			return err
		}
		report.Created, report.Updated, touched = 0, 0, nil
		pairs := make([][2]lawyaml.Node, 0, len(plans))
		for i := range plans {
			plan := &plans[i]
			generated, created, err := s.prepareGroup(ctx, tx, plan, language.ID)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", plan.uploaded.Name, err))
				continue
			}
			if created {
				report.Created++
			}
			if mismatches := lawdiff.CompareStructureStrict(generated.Children, plan.uploaded.Children, plan.uploaded.Name); len(mismatches) > 0 {
				report.Mismatches[plan.uploaded.Name] = mismatches
				continue
			}
			pairs = append(pairs, [2]lawyaml.Node{generated, plan.uploaded})
			touched = append(touched, plan.group)
		}
		if !report.OK() {
			return errAborted
		}
		for _, pair := range pairs {
			updated, err := s.UpdateLawsByStructure(ctx, tx, []lawyaml.Node{pair[0]}, []lawyaml.Node{pair[1]}, language.ID)
			if err != nil {
				return fmt.Errorf("%s: %w", pair[1].Name, err)
			}
			report.Updated += updated
		}
		if commit != nil {
			return commit(ctx, tx)
		}
		return nil
	})
	if errors.Is(err, errAborted) {
		report.Created = 0
		mismatchCount := 0
		for _, items := range report.Mismatches {
			mismatchCount += len(items)
		}
		s.metrics.Mismatches.Add(float64(mismatchCount))
		outcome := "mismatch"
		if len(report.Errors) > 0 {
			outcome = "error"
		}
		s.metrics.Applies.WithLabelValues(outcome).Inc()
		return report, nil
	}
	if err != nil {
		report.Created, report.Updated = 0, 0
		s.metrics.Applies.WithLabelValues("error").Inc()
		return report, fmt.Errorf("update laws from yaml: %w", err)
	}

	report.Applied = true
	report.Mismatches = nil
	s.metrics.Applies.WithLabelValues("applied").Inc()
	s.afterApply(ctx, touched, language)
	return report, nil
}

func lockTrees(ctx context.Context, tx store.Repository, plans []groupPlan, languageID int64) error {
	ids := make([]int64, 0, len(plans))
	for _, plan := range plans {
		if plan.group.ID != 0 {
			ids = append(ids, plan.group.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := tx.LockTree(ctx, id, languageID); err != nil {
			return err
		}
	}
	return nil
}

// prepareGroup makes sure the planned group and its prime law exist, importing
// the uploaded skeleton when they do not, and serializes the current tree.
func (s *Service) prepareGroup(ctx context.Context, tx store.Repository, plan *groupPlan, languageID int64) (lawyaml.Node, bool, error) {
	created := false
	if plan.group.ID == 0 {
		if err := laws.InsertGroup(ctx, tx, &plan.group); err != nil {
			return lawyaml.Node{}, false, err
		}
		created = true
	}

	prime, err := tx.GetPrimeLaw(ctx, plan.group.ID, languageID)
	if errors.Is(err, store.ErrNotFound) {
		prime, err = importTree(ctx, tx, plan.group.ID, languageID, plan.uploaded)
	}
	if err != nil {
		return lawyaml.Node{}, created, err
	}

	nodes, err := lawyaml.NewSerializer(tx).SerializeGroup(ctx, &prime, true)
	if err != nil {
		return lawyaml.Node{}, created, err
	}
	return nodes[0], created, nil
}

// importTree creates the prime law and the full node structure of root with
// titles only. Text and citations are filled in by the structural update that
// follows, once every imported group exists.
func importTree(ctx context.Context, tx store.Repository, groupID, languageID int64, root lawyaml.Node) (store.Law, error) {
	prime, err := laws.CreateLaw(ctx, tx, laws.CreateLawInput{
		GroupID:    groupID,
		LanguageID: languageID,
		Title:      root.Name,
		PrimeLaw:   true,
	})
	if err != nil {
		return store.Law{}, err
	}
	var create func(parentID *int64, nodes []lawyaml.Node) error
	create = func(parentID *int64, nodes []lawyaml.Node) error {
		for _, node := range nodes {
			law, err := laws.CreateLaw(ctx, tx, laws.CreateLawInput{
				GroupID:    groupID,
				LanguageID: languageID,
				ParentID:   parentID,
				Title:      node.Name,
			})
			if err != nil {
				return fmt.Errorf("import %q: %w", node.Name, err)
			}
			if err := create(&law.ID, node.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := create(nil, root.Children); err != nil {
		return store.Law{}, err
	}
	return prime, nil
}

// UpdateLawsByStructure walks two structurally identical trees in lockstep and
// rewrites the title, text and citations of every stored node whose uploaded
// counterpart differs. generated must carry law ids. The walk runs in one
// transaction and returns the number of laws changed.
func (s *Service) UpdateLawsByStructure(ctx context.Context, repo store.Repository, generated, uploaded []lawyaml.Node, languageID int64) (int, error) {
	updated := 0
	err := repo.InTx(ctx, func(tx store.Repository) error {
		var err error
		updated, err = updateLevel(ctx, tx, generated, uploaded, languageID)
		return err
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

func updateLevel(ctx context.Context, tx store.Repository, generated, uploaded []lawyaml.Node, languageID int64) (int, error) {
	if len(generated) != len(uploaded) {
		return 0, fmt.Errorf("%w: %d stored nodes, %d uploaded", ErrStructureMismatch, len(generated), len(uploaded))
	}
	updated := 0
	for i := range generated {
		changed, err := updateNode(ctx, tx, generated[i], uploaded[i], languageID)
		if err != nil {
			return 0, err
		}
		if changed {
			updated++
		}
		n, err := updateLevel(ctx, tx, generated[i].Children, uploaded[i].Children, languageID)
		if err != nil {
			return 0, err
		}
		updated += n
	}
	return updated, nil
}

func updateNode(ctx context.Context, tx store.Repository, generated, uploaded lawyaml.Node, languageID int64) (bool, error) {
	if generated.ID == 0 {
		return false, fmt.Errorf("%w: stored node %q has no id", ErrStructureMismatch, generated.Name)
	}
	titleChanged := generated.Name != uploaded.Name
	bodyChanged := generated.Body() != uploaded.Body()
	if !titleChanged && !bodyChanged {
		return false, nil
	}
	law, err := tx.GetLaw(ctx, generated.ID)
	if err != nil {
		return false, err
	}

	resolver := refs.RepoResolver{Repo: tx}
	var cited []store.Law
	if titleChanged {
		var title string
		title, cited, err = refs.Inbound(ctx, uploaded.Name, languageID, resolver)
		if err != nil {
			return false, err
		}
		law.Title = strings.TrimSpace(title)
	}

	var references []store.Law
	setReferences := false
	if bodyChanged {
		body := uploaded.Body()
		if law.PrimeLaw {
			// The root pretext ends with one citation per stored reference.
			// An untouched suffix keeps the stored reference set.
			suffix := strings.TrimPrefix(generated.Pretext, refs.Outbound(law.Description))
			if suffix != "" && strings.HasSuffix(body, suffix) {
				body = strings.TrimSuffix(body, suffix)
				if references, err = tx.ListReferences(ctx, law.ID); err != nil {
					return false, err
				}
			}
		}
		description, described, err := refs.Inbound(ctx, body, languageID, resolver)
		if err != nil {
			return false, err
		}
		law.Description = strings.TrimSpace(description)
		if !law.AllowDescription && law.Description != "" {
			return false, fmt.Errorf("%q: %w", uploaded.Name, laws.ErrDescriptionNotAllowed)
		}
		references = append(references, described...)
		setReferences = true
	} else if len(cited) > 0 {
		if references, err = tx.ListReferences(ctx, law.ID); err != nil {
			return false, err
		}
		setReferences = true
	}
	if err := tx.UpdateLaw(ctx, &law); err != nil {
		return false, err
	}

	if setReferences {
		references = append(references, cited...)
		ids := make([]int64, 0, len(references))
		for _, ref := range references {
			ids = append(ids, ref.ID)
		}
		if err := tx.SetReferences(ctx, law.ID, ids); err != nil {
			return false, err
		}
	}
	return true, nil
}

// afterApply runs the law hooks for every group the batch touched and reports
// the apply.
func (s *Service) afterApply(ctx context.Context, groups []store.LawGroup, language store.Language) {
	for _, group := range groups {
		tree, err := s.repo.ListTreeLaws(ctx, group.ID, language.ID)
		if err != nil {
			s.logf("lawsync: reload %s: %v", group.Title, err)
			continue
		}
		change := laws.Change{Kind: notify.EventLawUpdated, Actor: "sync", Group: group, LanguageID: language.ID, Laws: tree}
		for _, hook := range s.hooks {
			hook(ctx, change)
		}
	}
}
