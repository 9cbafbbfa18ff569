package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mockshelf/mockshelf/internal/apperr"
	"github.com/mockshelf/mockshelf/internal/flow"
)

const systemPrompt = `You order screens of an app prototype into a walkthrough video.
You are given the available frames as "id: name" lines and a description of the walkthrough.
Reply with JSON only, shaped as {"frames":[{"id":"<frame id>","duration":<seconds>,"transition":"cut|fade|slow_fade|slide"}]}.
Use only ids from the list. Durations are between 0.5 and 10 seconds.`

type aiReply struct {
	Frames []struct {
		ID         string  `json:"id"`
		Duration   float64 `json:"duration"`
		Transition string  `json:"transition"`
	} `json:"frames"`
}

// AIPlanner asks a language model for the frame order. Replies are checked
// against the offered frames; when nothing usable remains, or the model
// fails, every frame is used in file order.
type AIPlanner struct {
	llm    Completer
	logger *slog.Logger
}

func NewAIPlanner(llm Completer, logger *slog.Logger) *AIPlanner {
	return &AIPlanner{llm: llm, logger: logger}
}

func (p *AIPlanner) Plan(ctx context.Context, req flow.Request) (flow.Plan, error) {
	settings := req.Settings.Normalize()
	if len(req.Frames) == 0 {
		return flow.Plan{}, nil
	}

	content, err := p.llm.CompleteJSON(ctx, systemPrompt, userPrompt(req, settings))
	if err != nil {
		if errors.Is(err, ErrMissingAPIKey) {
			return flow.Plan{}, apperr.Wrap(apperr.CredentialMissing, err, "ai planning unavailable").
				WithSuggestion("set llm.api_key or MOCKSHELF_LLM_API_KEY, or use prototype mode")
		}
		if ctx.Err() != nil {
			return flow.Plan{}, ctx.Err()
		}
		p.logger.Warn("ai planner failed, using all frames", "error", err)
		return flow.Uniform(req.Frames, settings), nil
	}

	var reply aiReply
	if err := DecodeJSON(content, &reply); err != nil {
		p.logger.Warn("ai planner reply unreadable, using all frames", "error", err)
		return flow.Uniform(req.Frames, settings), nil
	}

	names := make(map[string]string, len(req.Frames))
	for _, f := range req.Frames {
		names[f.ID] = f.Name
	}
	entries := make([]flow.PlanFrame, 0, len(reply.Frames))
	dropped := 0
	for _, rf := range reply.Frames {
		name, ok := names[strings.TrimSpace(rf.ID)]
		if !ok {
			dropped++
			continue
		}
		t, err := flow.ParseTransition(rf.Transition)
		if err != nil || strings.TrimSpace(rf.Transition) == "" {
			t = settings.Transition
		}
		d := rf.Duration
		if d <= 0 {
			d = settings.Duration
		}
		entries = append(entries, flow.PlanFrame{ID: strings.TrimSpace(rf.ID), Name: name, Duration: d, Transition: t})
	}
	if dropped > 0 {
		p.logger.Warn("ai planner returned unknown frames", "dropped", dropped)
	}
	if len(entries) == 0 {
		return flow.Uniform(req.Frames, settings), nil
	}
	return flow.NewPlan(entries), nil
}

func userPrompt(req flow.Request, s flow.Settings) string {
	var b strings.Builder
	b.WriteString("Frames:\n")
	for _, f := range req.Frames {
		fmt.Fprintf(&b, "%s: %s\n", f.ID, f.Name)
	}
	desc := strings.TrimSpace(req.Description)
	if desc == "" {
		desc = "A natural walkthrough of the main user journey."
	}
	fmt.Fprintf(&b, "\nDescription: %s\n", desc)
	fmt.Fprintf(&b, "Default duration: %.1fs. Default transition: %s.\n", s.Duration, s.Transition)
	return b.String()
}
