package page

import (
	"chatmend/censor"
	"chatmend/domain"
)

// Extract reconstructs the flat ordered message sequence from the first
// `turns` rendered turns: one [user, assistant] pair per turn. The censored
// flag on an assistant message comes from the lexical classifier or an
// existing warning banner; manualLast forces it on the final turn in scope.
func Extract(tr Transcript, turns int, manualLast bool) domain.History {
	if turns > tr.Len() {
		turns = tr.Len()
	}
	if turns < 0 {
		turns = 0
	}

	history := make(domain.History, 0, turns*2)
	for i := 0; i < turns; i++ {
		assistantText := tr.AssistantText(i)
		censored := censor.IsCensored(assistantText) || tr.HasWarning(i)
		if manualLast && i == turns-1 {
			censored = true
		}

		history = append(history,
			domain.Message{Role: domain.RoleUser, Content: tr.UserText(i)},
			domain.Message{Role: domain.RoleAssistant, Content: assistantText, Censored: censored},
		)
	}
	return history
}
