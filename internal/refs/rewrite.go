// Package refs rewrites inline references between the upstream backtick
// notation and the internal {{token}} notation.
package refs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/timeers/root-website-sub000/internal/store"
)

var (
	backtickToken = regexp.MustCompile("`([^`\n]+)`")
	bracketToken  = regexp.MustCompile(`\{\{([^{}\n]+)\}\}`)
	ruleCode      = regexp.MustCompile(`^(\d+)\.(\d+(?:\.\d+)*)$`)
	escapedParens = strings.NewReplacer(`\(`, "(", `\)`, ")")
)

// Resolver finds the law cited by a `rule:G.N` token. G is the ordinal of an
// Official group and N the law code inside that group.
type Resolver interface {
	ResolveRule(ctx context.Context, groupOrdinal int, code string, languageID int64) (store.Law, bool, error)
}

// Inbound converts upstream text to internal notation. Resolved rule citations
// are replaced by the cited law's code and returned once each, in order of
// first appearance.
func Inbound(ctx context.Context, text string, languageID int64, resolver Resolver) (string, []store.Law, error) {
	if text == "" {
		return "", nil, nil
	}

	var (
		laws    []store.Law
		seen    = map[int64]struct{}{}
		lookErr error
	)
	rewritten := backtickToken.ReplaceAllStringFunc(text, func(match string) string {
		if lookErr != nil {
			return match
		}
		body := match[1 : len(match)-1]
		kind, rest, ok := strings.Cut(body, ":")
		if !ok {
			return match
		}

		switch Kind(kind) {
		case "rule":
			law, found, err := resolveRule(ctx, rest, languageID, resolver)
			if err != nil {
				lookErr = err
				return match
			}
			if !found {
				return rest
			}
			if _, dup := seen[law.ID]; !dup {
				seen[law.ID] = struct{}{}
				laws = append(laws, law)
			}
			return law.LawCode
		case KindFaction:
			key, _, _ := strings.Cut(rest, ":")
			if mapping, ok := Lookup(KindFaction, key); ok {
				return mapping.Internal()
			}
		case KindHireling, KindItem:
			if mapping, ok := Lookup(Kind(kind), rest); ok {
				return mapping.Internal()
			}
		}
		return match
	})
	if lookErr != nil {
		return "", nil, lookErr
	}
	return escapedParens.Replace(rewritten), laws, nil
}

func resolveRule(ctx context.Context, rest string, languageID int64, resolver Resolver) (store.Law, bool, error) {
	parts := ruleCode.FindStringSubmatch(rest)
	if parts == nil || resolver == nil {
		return store.Law{}, false, nil
	}
	ordinal, err := strconv.Atoi(parts[1])
	if err != nil {
		return store.Law{}, false, nil
	}
	law, found, err := resolver.ResolveRule(ctx, ordinal, parts[2], languageID)
	if err != nil {
		return store.Law{}, false, fmt.Errorf("resolve rule:%s: %w", rest, err)
	}
	return law, found, nil
}

// Outbound converts internal {{token}} notation back to upstream backtick
// tokens. Unknown tokens are left as they are.
func Outbound(text string) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return bracketToken.ReplaceAllStringFunc(text, func(match string) string {
		token := strings.TrimSpace(match[2 : len(match)-2])
		if mapping, ok := LookupToken(token); ok {
			return mapping.External()
		}
		return match
	})
}

// RepoResolver resolves rule citations against the Official groups in a
// repository.
type RepoResolver struct {
	Repo store.Repository
}

func (r RepoResolver) ResolveRule(ctx context.Context, groupOrdinal int, code string, languageID int64) (store.Law, bool, error) {
	groups, err := r.Repo.ListGroups(ctx, store.GroupFilter{Type: store.GroupOfficial})
	if err != nil {
		return store.Law{}, false, err
	}
	for id, ordinal := range store.OfficialOrdinals(groups) {
		if ordinal != groupOrdinal {
			continue
		}
		law, err := r.Repo.FindLawByCode(ctx, id, languageID, code)
		if errors.Is(err, store.ErrNotFound) {
			return store.Law{}, false, nil
		}
		if err != nil {
			return store.Law{}, false, err
		}
		return law, true, nil
	}
	return store.Law{}, false, nil
}
