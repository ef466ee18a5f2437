package reasoner

import (
	"fmt"
	"strings"

	"vigil/pkg/protocol"
)

// BuildPrompt renders the focused items into the instruction sent to a
// reasoning model. The model must answer with a single JSON object.
func BuildPrompt(items []protocol.WorkspaceItem) string {
	var b strings.Builder
	b.WriteString("You maintain a knowledge base of plain text and markdown files.\n")
	b.WriteString("The following changes are currently in focus, most salient first.\n\n")

	for i, it := range items {
		o := it.Observation
		fmt.Fprintf(&b, "%d. [%s/%s] %s (salience %.2f)", i+1, o.Source, o.Kind, o.Path, it.Salience)
		if o.RawSummary != "" {
			fmt.Fprintf(&b, ": %s", o.RawSummary)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nPropose at most one action in response. Reply with JSON only:\n")
	b.WriteString(`{"action":{"kind":"mutate|query|analyze|noop","target":"relative/path","payload":"..."},`)
	b.WriteString(`"confidence":0.0,"rationale":"..."}`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- target is a path relative to the knowledge-base root\n")
	b.WriteString("- payload for mutate is the complete new file content\n")
	b.WriteString("- confidence is your probability in [0,1] that the action is correct and useful\n")
	b.WriteString("- use kind noop with confidence 0 when nothing should be done\n")
	return b.String()
}
