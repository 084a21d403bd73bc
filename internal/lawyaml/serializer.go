package lawyaml

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/timeers/root-website-sub000/internal/refs"
	"github.com/timeers/root-website-sub000/internal/store"
)

// ErrNoPrimeLaw is a configuration error: a group cannot be serialized
// without its synopsis node.
var ErrNoPrimeLaw = errors.New("no prime law")

// NoContentColor marks a root entry whose group has no backing content item.
const NoContentColor = "#000000"

type treeReader interface {
	GetGroup(ctx context.Context, groupID int64) (store.LawGroup, error)
	ListGroups(ctx context.Context, filter store.GroupFilter) ([]store.LawGroup, error)
	GetPrimeLaw(ctx context.Context, groupID, languageID int64) (store.Law, error)
	ListTreeLaws(ctx context.Context, groupID, languageID int64) ([]store.Law, error)
	ListReferences(ctx context.Context, lawID int64) ([]store.Law, error)
}

type Serializer struct {
	repo treeReader
}

func NewSerializer(repo treeReader) *Serializer {
	return &Serializer{repo: repo}
}

// SerializeGroup renders the tree under prime as a one-element list holding
// the group's root entry.
func (s *Serializer) SerializeGroup(ctx context.Context, prime *store.Law, includeID bool) ([]Node, error) {
	if prime == nil || !prime.PrimeLaw {
		return nil, ErrNoPrimeLaw
	}
	group, err := s.repo.GetGroup(ctx, prime.GroupID)
	if err != nil {
		return nil, fmt.Errorf("serialize group: %w", err)
	}
	laws, err := s.repo.ListTreeLaws(ctx, prime.GroupID, prime.LanguageID)
	if err != nil {
		return nil, fmt.Errorf("serialize group: %w", err)
	}

	children := make(map[int64][]store.Law)
	var topLevel []store.Law
	for _, law := range laws {
		if law.PrimeLaw {
			continue
		}
		if law.ParentID == nil {
			topLevel = append(topLevel, law)
			continue
		}
		children[*law.ParentID] = append(children[*law.ParentID], law)
	}

	root := Node{
		Name:     refs.Outbound(prime.Title),
		Color:    rootColor(group),
		Appendix: group.Type == store.GroupAppendix,
	}
	if prime.Description != "" {
		pretext, err := s.citedText(ctx, prime)
		if err != nil {
			return nil, err
		}
		root.Pretext = pretext
	}
	if includeID {
		root.ID = prime.ID
	}
	root.Children = serializeLevel(topLevel, children, 0, includeID)
	return []Node{root}, nil
}

func rootColor(group store.LawGroup) string {
	if group.ContentItemID == nil {
		return NoContentColor
	}
	return group.Color
}

// citedText renders the prime description followed by one parenthesized
// citation per referenced law.
func (s *Serializer) citedText(ctx context.Context, prime *store.Law) (string, error) {
	cited, err := s.repo.ListReferences(ctx, prime.ID)
	if err != nil {
		return "", fmt.Errorf("serialize references: %w", err)
	}
	var b strings.Builder
	b.WriteString(refs.Outbound(prime.Description))
	groups := map[int64]store.LawGroup{}
	var ordinals map[int64]int
	for _, law := range cited {
		group, ok := groups[law.GroupID]
		if !ok {
			group, err = s.repo.GetGroup(ctx, law.GroupID)
			if err != nil {
				return "", fmt.Errorf("serialize references: %w", err)
			}
			groups[law.GroupID] = group
		}
		if group.Type == store.GroupOfficial && ordinals == nil {
			official, err := s.repo.ListGroups(ctx, store.GroupFilter{Type: store.GroupOfficial})
			if err != nil {
				return "", fmt.Errorf("serialize references: %w", err)
			}
			ordinals = store.OfficialOrdinals(official)
		}
		b.WriteString(" (")
		if ordinal := ordinals[group.ID]; group.Type == store.GroupOfficial && ordinal > 0 && law.LawCode != "" {
			b.WriteString("`rule:" + strconv.Itoa(ordinal) + "." + law.LawCode + "`")
		} else {
			b.WriteString(law.String())
		}
		b.WriteString(")")
	}
	return b.String(), nil
}

func serializeLevel(laws []store.Law, children map[int64][]store.Law, depth int, includeID bool) []Node {
	if len(laws) == 0 {
		return nil
	}
	nodes := make([]Node, 0, len(laws))
	for _, law := range laws {
		name := refs.Outbound(law.Title)
		node := Node{Name: name}
		if law.PlainTitle != name {
			node.PlainName = law.PlainTitle
		}
		text := refs.Outbound(law.Description)
		if depth == 0 {
			node.Pretext = text
		} else {
			node.Text = text
		}
		if includeID {
			node.ID = law.ID
		}
		node.Children = serializeLevel(children[law.ID], children, depth+1, includeID)
		nodes = append(nodes, node)
	}
	return nodes
}
