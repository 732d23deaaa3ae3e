package page

import (
	"errors"

	"chatmend/domain"
)

// WarningText is the banner shown on turns whose answer was substituted.
const WarningText = "This answer was filtered by the provider; showing a replacement."

// ErrNotReady signals that the snapshot does not yet render every persisted
// turn. The page shim observes mutations and retries until restore succeeds,
// so this is the expected answer while turns are still streaming in.
var ErrNotReady = errors.New("page: transcript renders fewer turns than persisted history")

// Restore re-applies a persisted history to a freshly rendered transcript:
// turn texts, banners on censored turns, and retry affordances on every
// turn. One-time per page load; a second call is a no-op by idempotence of
// the underlying operations.
func Restore(view View, history domain.History) error {
	turns := len(history) / 2
	if turns == 0 {
		return nil
	}
	if view.Len() < turns {
		return ErrNotReady
	}

	for i := 0; i < turns; i++ {
		assistant := history[i*2+1]
		view.SetTurnText(i, assistant.Content)
		if assistant.Censored {
			view.ShowWarning(i, WarningText)
		} else {
			view.HideWarning(i)
		}
		view.AppendRetry(i)
	}
	return nil
}
