package lawsync

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/timeers/root-website-sub000/internal/blobstore"
	"github.com/timeers/root-website-sub000/internal/gitrepo"
	"github.com/timeers/root-website-sub000/internal/laws"
	"github.com/timeers/root-website-sub000/internal/lawyaml"
	"github.com/timeers/root-website-sub000/internal/rbac"
	"github.com/timeers/root-website-sub000/internal/store"
)

var admin = rbac.Actor{ID: "admin", Role: rbac.RoleAdmin}

type world struct {
	repo    *store.MemoryStore
	laws    *laws.Service
	sync    *Service
	archive *gitrepo.Service
	changes []laws.Change
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{repo: store.NewMemoryStore(), archive: gitrepo.New(t.TempDir())}
	w.laws = laws.New(w.repo, nil)
	w.sync = New(Options{BasePath: "rules"}, Deps{
		Repo:    w.repo,
		Blobs:   blobstore.NewMemory(),
		Archive: w.archive,
		Hooks: []laws.Hook{func(_ context.Context, change laws.Change) {
			w.changes = append(w.changes, change)
		}},
		Logf: t.Logf,
	})
	return w
}

// faction creates an Official group with a content item, its prime law and
// one top-level law per section.
func (w *world) faction(t *testing.T, title, prime string, item int64, sections ...string) (store.Law, []store.Law) {
	t.Helper()
	ctx := context.Background()
	group, err := w.laws.CreateGroup(ctx, admin, laws.CreateGroupInput{Title: title, Type: store.GroupOfficial, Public: true, ContentItemID: &item, Color: "#D27E35"})
	if err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}
	primeLaw, err := w.laws.Create(ctx, admin, laws.CreateLawInput{GroupID: group.ID, LanguageID: english.ID, Title: prime, Description: "Rule the woods.", PrimeLaw: true})
	if err != nil {
		t.Fatalf("Create(prime) error = %v", err)
	}
	created := make([]store.Law, 0, len(sections))
	for _, section := range sections {
		law, err := w.laws.Create(ctx, admin, laws.CreateLawInput{GroupID: group.ID, LanguageID: english.ID, Title: section, Description: section + " text."})
		if err != nil {
			t.Fatalf("Create(%q) error = %v", section, err)
		}
		created = append(created, law)
	}
	return primeLaw, created
}

func (w *world) export(t *testing.T) []lawyaml.Node {
	t.Helper()
	nodes, err := lawyaml.NewSerializer(w.repo).ExportLanguage(context.Background(), english.ID, false)
	if err != nil {
		t.Fatalf("ExportLanguage() error = %v", err)
	}
	return nodes
}

func (w *world) law(t *testing.T, id int64) store.Law {
	t.Helper()
	law, err := w.repo.GetLaw(context.Background(), id)
	if err != nil {
		t.Fatalf("GetLaw(%d) error = %v", id, err)
	}
	return law
}

func TestUpdateLawsFromYAMLAppliesTextChange(t *testing.T) {
	w := newWorld(t)
	_, sections := w.faction(t, "Marquise", "Marquise de Cat", 1, "Overview", "Faction Setup")
	overview, setup := w.law(t, sections[0].ID), w.law(t, sections[1].ID)

	uploaded := w.export(t)
	uploaded[0].Children[1].Pretext = "Place the keep in a corner clearing."

	report, err := w.sync.UpdateLawsFromYAML(context.Background(), uploaded, english)
	if err != nil {
		t.Fatalf("UpdateLawsFromYAML() error = %v", err)
	}
	if !report.Applied || report.Updated != 1 || report.Created != 0 {
		t.Fatalf("report = %+v", report)
	}

	gotSetup := w.law(t, setup.ID)
	if gotSetup.Description != "Place the keep in a corner clearing." {
		t.Fatalf("Description = %q", gotSetup.Description)
	}
	if gotSetup.Position != setup.Position || gotSetup.LawCode != setup.LawCode {
		t.Fatalf("position/code changed: %+v -> %+v", setup, gotSetup)
	}
	if gotOverview := w.law(t, overview.ID); gotOverview != overview {
		t.Fatalf("untouched law changed: %+v -> %+v", overview, gotOverview)
	}
	if len(w.changes) != 1 || w.changes[0].Group.Title != "Marquise" {
		t.Fatalf("changes = %+v", w.changes)
	}
}

func TestUpdateLawsFromYAMLNoopWhenUnchanged(t *testing.T) {
	w := newWorld(t)
	w.faction(t, "Marquise", "Marquise de Cat", 1, "Overview", "Faction Setup")

	report, err := w.sync.UpdateLawsFromYAML(context.Background(), w.export(t), english)
	if err != nil {
		t.Fatalf("UpdateLawsFromYAML() error = %v", err)
	}
	if !report.Applied || report.Updated != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestUpdateLawsFromYAMLMismatchAbortsWholeBatch(t *testing.T) {
	w := newWorld(t)
	_, marquise := w.faction(t, "Marquise", "Marquise de Cat", 1, "Overview", "Faction Setup")
	w.faction(t, "Eyrie", "Eyrie Dynasties", 2, "Overview")

	uploaded := w.export(t)
	uploaded[0].Children[0].Pretext = "Changed text."
	uploaded[1].Children[0].Name = "Summary"

	report, err := w.sync.UpdateLawsFromYAML(context.Background(), uploaded, english)
	if err != nil {
		t.Fatalf("UpdateLawsFromYAML() error = %v", err)
	}
	if report.Applied {
		t.Fatal("report.Applied = true, want false")
	}
	mismatches := report.Mismatches["Eyrie Dynasties"]
	want := `Eyrie Dynasties[0]: name mismatch (expected "Overview", got "Summary")`
	found := false
	for _, message := range mismatches {
		found = found || message == want
	}
	if !found {
		t.Fatalf("mismatches = %q, want %q", mismatches, want)
	}
	if _, ok := report.Mismatches["Marquise de Cat"]; ok {
		t.Fatalf("unexpected mismatches for matching group: %+v", report.Mismatches)
	}
	if got := w.law(t, marquise[0].ID).Description; got != "Overview text." {
		t.Fatalf("Description = %q, want untouched", got)
	}
	if len(w.changes) != 0 {
		t.Fatalf("hooks ran for aborted batch: %+v", w.changes)
	}
}

func TestUpdateLawsFromYAMLImportsNewGroups(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, sections := w.faction(t, "Marquise", "Marquise de Cat", 1, "Overview", "Faction Setup")

	uploaded := append(w.export(t), lawyaml.Node{
		Name:     "Glossary",
		Color:    lawyaml.NoContentColor,
		Appendix: true,
		Children: []lawyaml.Node{
			{Name: "Ambush", Pretext: "See `rule:1.2` and use a `item:torch`."},
			{Name: "Battle", Children: []lawyaml.Node{{Name: "Hits", Text: "Remove pieces."}}},
		},
	})

	report, err := w.sync.UpdateLawsFromYAML(ctx, uploaded, english)
	if err != nil {
		t.Fatalf("UpdateLawsFromYAML() error = %v", err)
	}
	if !report.Applied || report.Created != 1 {
		t.Fatalf("report = %+v", report)
	}

	groups, err := w.repo.ListGroups(ctx, store.GroupFilter{Type: store.GroupAppendix})
	if err != nil || len(groups) != 1 {
		t.Fatalf("appendix groups = %+v, %v", groups, err)
	}
	tree, err := w.repo.ListTreeLaws(ctx, groups[0].ID, english.ID)
	if err != nil {
		t.Fatalf("ListTreeLaws() error = %v", err)
	}
	byTitle := map[string]store.Law{}
	for _, law := range tree {
		byTitle[law.Title] = law
	}
	if !byTitle["Glossary"].PrimeLaw {
		t.Fatalf("Glossary prime missing: %+v", tree)
	}
	ambush := byTitle["Ambush"]
	if ambush.Description != "See 2 and use a {{torch}}." {
		t.Fatalf("Ambush description = %q", ambush.Description)
	}
	if byTitle["Hits"].LawCode != "2.1" || byTitle["Hits"].Description != "Remove pieces." {
		t.Fatalf("Hits = %+v", byTitle["Hits"])
	}
	cited, err := w.repo.ListReferences(ctx, ambush.ID)
	if err != nil {
		t.Fatalf("ListReferences() error = %v", err)
	}
	if len(cited) != 1 || cited[0].ID != sections[1].ID {
		t.Fatalf("references = %+v, want Faction Setup", cited)
	}
}

// officialBetweenFan builds Core (Official, no content item), a Fan group and
// then Marquise, so Marquise is the second Official group but holds the third
// position overall.
func officialBetweenFan(t *testing.T, w *world) []store.Law {
	t.Helper()
	ctx := context.Background()
	core, err := w.laws.CreateGroup(ctx, admin, laws.CreateGroupInput{Title: "Core Rules", Type: store.GroupOfficial, Public: true})
	if err != nil {
		t.Fatalf("CreateGroup(core) error = %v", err)
	}
	if _, err := w.laws.Create(ctx, admin, laws.CreateLawInput{GroupID: core.ID, LanguageID: english.ID, Title: "Core Rules", PrimeLaw: true}); err != nil {
		t.Fatalf("Create(core prime) error = %v", err)
	}
	if _, err := w.laws.CreateGroup(ctx, admin, laws.CreateGroupInput{Title: "Riverfolk Otters", Type: store.GroupFan, Public: true}); err != nil {
		t.Fatalf("CreateGroup(fan) error = %v", err)
	}
	_, sections := w.faction(t, "Marquise", "Marquise de Cat", 1, "Overview", "Faction Setup")
	return sections
}

func TestUpdateLawsFromYAMLCitesOfficialOrdinalPastFanGroups(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	sections := officialBetweenFan(t, w)

	uploaded := w.export(t)
	if len(uploaded) != 2 || uploaded[1].Name != "Marquise de Cat" {
		t.Fatalf("export = %+v", uploaded)
	}
	uploaded[1].Children[1].Pretext = "See `rule:2.1` first."

	report, err := w.sync.UpdateLawsFromYAML(ctx, uploaded, english)
	if err != nil {
		t.Fatalf("UpdateLawsFromYAML() error = %v", err)
	}
	if !report.Applied || report.Updated != 1 {
		t.Fatalf("report = %+v", report)
	}
	setup := w.law(t, sections[1].ID)
	if setup.Description != "See 1 first." {
		t.Fatalf("Description = %q, want resolved citation", setup.Description)
	}
	cited, err := w.repo.ListReferences(ctx, setup.ID)
	if err != nil {
		t.Fatalf("ListReferences() error = %v", err)
	}
	if len(cited) != 1 || cited[0].ID != sections[0].ID {
		t.Fatalf("references = %+v, want Overview", cited)
	}
}

func TestUpdateLawsFromYAMLMatchesRenamedGroupByOfficialOrdinal(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	officialBetweenFan(t, w)

	uploaded := w.export(t)
	uploaded[1].Name = "Marquise de Chat"

	report, err := w.sync.UpdateLawsFromYAML(ctx, uploaded, english)
	if err != nil {
		t.Fatalf("UpdateLawsFromYAML() error = %v", err)
	}
	if !report.Applied || report.Created != 0 {
		t.Fatalf("report = %+v, want no new group", report)
	}
	groups, _ := w.repo.ListGroups(ctx, store.GroupFilter{Type: store.GroupOfficial})
	if len(groups) != 2 {
		t.Fatalf("official groups = %d, want 2", len(groups))
	}
}

func TestSerializeGroupCitesOfficialOrdinal(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	sections := officialBetweenFan(t, w)
	prime, _ := w.faction(t, "Eyrie", "Eyrie Dynasties", 2, "Overview")
	if err := w.repo.SetReferences(ctx, prime.ID, []int64{sections[1].ID}); err != nil {
		t.Fatalf("SetReferences() error = %v", err)
	}

	nodes, err := lawyaml.NewSerializer(w.repo).SerializeGroup(ctx, &prime, false)
	if err != nil {
		t.Fatalf("SerializeGroup() error = %v", err)
	}
	if nodes[0].Pretext != "Rule the woods. (`rule:2.2`)" {
		t.Fatalf("Pretext = %q", nodes[0].Pretext)
	}
}

func TestUpdateLawsFromYAMLRejectsUnnamedNodes(t *testing.T) {
	w := newWorld(t)
	report, err := w.sync.UpdateLawsFromYAML(context.Background(), []lawyaml.Node{{Name: "Core", Children: []lawyaml.Node{{}}}}, english)
	if err != nil {
		t.Fatalf("UpdateLawsFromYAML() error = %v", err)
	}
	if report.Applied || len(report.Errors) != 1 {
		t.Fatalf("report = %+v", report)
	}
	groups, _ := w.repo.ListGroups(context.Background(), store.GroupFilter{})
	if len(groups) != 0 {
		t.Fatalf("groups created for rejected upload: %+v", groups)
	}
}

func TestUpdateLawsByStructureRejectsShapeChange(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	prime, _ := w.faction(t, "Marquise", "Marquise de Cat", 1, "Overview")
	generated, err := lawyaml.NewSerializer(w.repo).SerializeGroup(ctx, &prime, true)
	if err != nil {
		t.Fatalf("SerializeGroup() error = %v", err)
	}
	uploaded := []lawyaml.Node{{Name: generated[0].Name}}

	_, err = w.sync.UpdateLawsByStructure(ctx, w.repo, generated, uploaded, english.ID)
	if !errors.Is(err, ErrStructureMismatch) {
		t.Fatalf("UpdateLawsByStructure() error = %v, want ErrStructureMismatch", err)
	}
}

func TestUpdateLawsByStructureKeepsPrimeCitations(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, sections := w.faction(t, "Marquise", "Marquise de Cat", 1, "Overview", "Faction Setup")
	prime, _ := w.faction(t, "Eyrie", "Eyrie Dynasties", 2, "Overview")
	if err := w.repo.SetReferences(ctx, prime.ID, []int64{sections[1].ID}); err != nil {
		t.Fatalf("SetReferences() error = %v", err)
	}

	generated, err := lawyaml.NewSerializer(w.repo).SerializeGroup(ctx, &prime, true)
	if err != nil {
		t.Fatalf("SerializeGroup() error = %v", err)
	}
	if generated[0].Pretext != "Rule the woods. (`rule:1.2`)" {
		t.Fatalf("Pretext = %q", generated[0].Pretext)
	}
	uploaded := []lawyaml.Node{generated[0]}
	uploaded[0].Pretext = "Rule the skies. (`rule:1.2`)"

	updated, err := w.sync.UpdateLawsByStructure(ctx, w.repo, generated, uploaded, english.ID)
	if err != nil {
		t.Fatalf("UpdateLawsByStructure() error = %v", err)
	}
	if updated != 1 {
		t.Fatalf("updated = %d, want 1", updated)
	}
	if got := w.law(t, prime.ID).Description; got != "Rule the skies." {
		t.Fatalf("Description = %q", got)
	}
	cited, _ := w.repo.ListReferences(ctx, prime.ID)
	if len(cited) != 1 || cited[0].ID != sections[1].ID {
		t.Fatalf("references = %+v", cited)
	}
}

func TestApplyRulesFileLifecycle(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.faction(t, "Marquise", "Marquise de Cat", 1, "Overview")

	nodes := w.export(t)
	first, err := lawyaml.Encode(nodes)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	file, report, err := w.sync.UploadRules(ctx, admin, english, first)
	if err != nil {
		t.Fatalf("UploadRules() error = %v", err)
	}
	if !report.Applied || file.Status != store.RulesFileActive {
		t.Fatalf("file = %+v, report = %+v", file, report)
	}

	nodes[0].Children[0].Pretext = "New overview."
	second, err := lawyaml.Encode(nodes)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	next, report, err := w.sync.UploadRules(ctx, admin, english, second)
	if err != nil {
		t.Fatalf("UploadRules() error = %v", err)
	}
	if !report.Applied || report.Updated != 1 {
		t.Fatalf("report = %+v", report)
	}

	previous, err := w.repo.GetRulesFile(ctx, file.ID)
	if err != nil {
		t.Fatalf("GetRulesFile() error = %v", err)
	}
	if previous.Status != store.RulesFileArchive {
		t.Fatalf("previous status = %s, want Archive", previous.Status)
	}
	active, _ := w.repo.ListRulesFiles(ctx, store.RulesFileFilter{LanguageID: english.ID, Status: store.RulesFileActive})
	if len(active) != 1 || active[0].ID != next.ID {
		t.Fatalf("active files = %+v", active)
	}

	history, err := w.archive.History("en", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || !strings.HasPrefix(history[0].Message, "Apply rules upload") {
		t.Fatalf("history = %+v", history)
	}

	if _, _, err := w.sync.ApplyRulesFile(ctx, admin, file.ID); !errors.Is(err, ErrRulesFileArchived) {
		t.Fatalf("ApplyRulesFile(archived) error = %v, want ErrRulesFileArchived", err)
	}
	if _, err := w.sync.IgnoreRulesFile(ctx, admin, next.ID); !errors.Is(err, ErrRulesFileActive) {
		t.Fatalf("IgnoreRulesFile(active) error = %v, want ErrRulesFileActive", err)
	}
	if got, _ := w.repo.GetRulesFile(ctx, next.ID); got.Status != store.RulesFileActive {
		t.Fatalf("active file status = %s after refused ignore", got.Status)
	}

	pending := store.RulesFile{Version: "p13", SHA: "sha-13", LanguageID: english.ID, Status: store.RulesFileNew, FileKey: "rules/en/p13.yml"}
	if err := w.repo.InsertRulesFile(ctx, &pending); err != nil {
		t.Fatalf("InsertRulesFile() error = %v", err)
	}
	ignored, err := w.sync.IgnoreRulesFile(ctx, admin, pending.ID)
	if err != nil || ignored.Status != store.RulesFileArchive {
		t.Fatalf("IgnoreRulesFile() = %+v, %v", ignored, err)
	}
	if _, err := w.sync.IgnoreRulesFile(ctx, admin, pending.ID); !errors.Is(err, ErrRulesFileArchived) {
		t.Fatalf("IgnoreRulesFile(archived) error = %v, want ErrRulesFileArchived", err)
	}
}

var errActivation = errors.New("activation failed")

// failingActivation refuses every rules-file status change made inside a
// transaction.
type failingActivation struct {
	*store.MemoryStore
}

func (f failingActivation) InTx(ctx context.Context, fn func(store.Repository) error) error {
	return f.MemoryStore.InTx(ctx, func(tx store.Repository) error {
		return fn(failingActivationTx{tx})
	})
}

type failingActivationTx struct {
	store.Repository
}

func (failingActivationTx) UpdateRulesFileStatus(context.Context, int64, store.RulesFileStatus) error {
	return errActivation
}

func TestApplyRulesFileRollsBackLawsWhenActivationFails(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	_, sections := w.faction(t, "Marquise", "Marquise de Cat", 1, "Overview")

	nodes := w.export(t)
	nodes[0].Children[0].Pretext = "Changed overview."
	data, err := lawyaml.Encode(nodes)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	svc := New(Options{}, Deps{Repo: failingActivation{w.repo}, Blobs: blobstore.NewMemory(), Logf: t.Logf})

	file, report, err := svc.UploadRules(ctx, admin, english, data)
	if !errors.Is(err, errActivation) {
		t.Fatalf("UploadRules() error = %v, want activation failure", err)
	}
	if report.Applied {
		t.Fatalf("report = %+v, want not applied", report)
	}
	if got := w.law(t, sections[0].ID).Description; got != "Overview text." {
		t.Fatalf("Description = %q, want rolled back", got)
	}
	stored, err := w.repo.GetRulesFile(ctx, file.ID)
	if err != nil || stored.Status != store.RulesFileNew {
		t.Fatalf("rules file = %+v, %v, want New", stored, err)
	}
}

func TestRulesFileOperationsRequireAdmin(t *testing.T) {
	w := newWorld(t)
	designer := rbac.Actor{ID: "d", Role: rbac.RoleDesigner}
	if _, _, err := w.sync.UploadRules(context.Background(), designer, english, []byte("- name: X\n")); !errors.Is(err, laws.ErrForbidden) {
		t.Fatalf("UploadRules() error = %v, want ErrForbidden", err)
	}
	if _, err := w.sync.IgnoreRulesFile(context.Background(), designer, 1); !errors.Is(err, laws.ErrForbidden) {
		t.Fatalf("IgnoreRulesFile() error = %v, want ErrForbidden", err)
	}
}
