package threads

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

// DefaultHistoryLimit is the number of turns rendered for the agents.
const DefaultHistoryLimit = store.DefaultHistoryLimit

const (
	NoHistoryText    = "No previous messages."
	HistoryErrorText = "Error retrieving conversation history."
)

// RenderHistory renders up to limit recent turns oldest first, one
// "<Role>: <content>" per line. History is advisory, so store failures render
// as HistoryErrorText instead of an error.
func RenderHistory(ctx context.Context, repo store.ThreadRepo, threadID string, limit int) string {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	msgs, err := repo.ListMessages(ctx, threadID, limit)
	if err != nil {
		slog.Error("threads.RenderHistory: list failed", "threadID", threadID, "error", err)
		return HistoryErrorText
	}
	if len(msgs) == 0 {
		return NoHistoryText
	}
	lines := make([]string, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		lines = append(lines, fmt.Sprintf("%s: %s", roleLabel(msgs[i].Role), msgs[i].Content))
	}
	return strings.Join(lines, "\n")
}

func roleLabel(r models.Role) string {
	s := string(r)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
