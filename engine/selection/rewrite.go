package selection

import (
	"context"
	"fmt"
	"strings"

	"github.com/lifeexplorer230/newsdigest/engine/domain"
)

// RewriteDigest asks the provider to rewrite an already-composed set of
// posts into one coherent digest, substituting {header}, {news_block} and
// {footer} into the configured template (DefaultRewritePrompt when empty).
// Optional in the provider contract: callers should treat an error as
// "keep the mechanically formatted digest" rather than a run failure.
func (s *Selector) RewriteDigest(ctx context.Context, posts []domain.SelectedItem, header, footer, template string) (string, error) {
	if len(posts) == 0 {
		return "", fmt.Errorf("selection: rewrite digest: no posts")
	}
	if template == "" {
		template = DefaultRewritePrompt
	}

	var block strings.Builder
	for i, p := range posts {
		fmt.Fprintf(&block, "%d. %s\n%s\n", i+1, p.Title, p.Description)
		if p.SourceLink != "" {
			fmt.Fprintf(&block, "%s\n", p.SourceLink)
		}
		block.WriteString("\n")
	}

	rendered := strings.NewReplacer(
		"{header}", header,
		"{news_block}", escapeBraces(strings.TrimSpace(block.String())),
		"{footer}", footer,
	).Replace(template)

	system, user := splitPrompt(rendered, "Ты — редактор новостного дайджеста.")
	requestID := generateRequestID()

	reply, err := s.client.Complete(ctx, system, user, requestID)
	if err != nil {
		return "", fmt.Errorf("selection: rewrite digest: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("selection: rewrite digest: empty reply")
	}
	return reply, nil
}
