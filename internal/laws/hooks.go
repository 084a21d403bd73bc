package laws

import (
	"context"
	"strconv"

	"github.com/timeers/root-website-sub000/internal/notify"
	"github.com/timeers/root-website-sub000/internal/store"
)

// Change describes one committed mutation of a law tree.
type Change struct {
	Kind       notify.EventKind
	Actor      string
	Group      store.LawGroup
	LanguageID int64
	// Laws holds the rows as they are after the commit.
	Laws       []store.Law
	RemovedIDs []int64
}

// Hook runs after a mutation has been committed. Hooks cannot veto or roll
// back the change.
type Hook func(ctx context.Context, change Change)

// NotifyHook forwards changes to a Notifier, logging delivery failures.
func NotifyHook(notifier notify.Notifier, logf func(format string, args ...any)) Hook {
	return func(ctx context.Context, change Change) {
		event := notify.Event{
			Kind:       change.Kind,
			Actor:      change.Actor,
			GroupTitle: change.Group.Title,
		}
		if len(change.Laws) == 1 {
			event.LawCode = change.Laws[0].LawCode
			event.Title = change.Laws[0].PlainTitle
		} else if len(change.Laws) > 1 {
			event.Detail = pluralLaws(len(change.Laws)) + " changed"
		}
		if len(change.RemovedIDs) > 0 {
			event.Detail = pluralLaws(len(change.RemovedIDs)) + " removed"
		}
		if err := notifier.Notify(ctx, event); err != nil {
			logf("laws: notify %s: %v", change.Kind, err)
		}
	}
}

func pluralLaws(n int) string {
	if n == 1 {
		return "1 law"
	}
	return strconv.Itoa(n) + " laws"
}
