package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

const icpSystemPrompt = `You are a B2B sales analyst building an ideal customer profile. Given a campaign classification and the available leads, respond with ONLY a JSON object in this exact shape:
{
  "primary_demographic": "<one-line segment description>",
  "pain_points": ["<pain point>", ...],
  "business_objectives": ["<objective>", ...],
  "historical_best_channel": "<linkedin|email|call>",
  "priority_leads": [
    {"name": "...", "role": "...", "company": "...", "email": "...", "phone": "...", "lead_score": <int>, "reason_for_match": "..."}
  ]
}
Select at most 3 priority leads, best match first. Use only leads from the provided list.`

const icpUserPromptHeader = `Campaign classification: %s
Objective: %s

Available leads:
`

// fencedJSON strips markdown code fences the model sometimes wraps around
// JSON responses.
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

func stripFences(s string) string {
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return strings.TrimSpace(s)
}

// matchICP builds the ideal customer profile and selects priority leads. Any
// failure, from lead listing through JSON parsing, degrades to a generic
// profile so routing and generation always have something to work with.
func (p *Pipeline) matchICP(ctx context.Context, run *model.PipelineRun) (model.StageStatus, error) {
	available, err := p.leads.ListLeads(ctx)
	if err != nil {
		run.ICP = p.fallbackICP(run, nil)
		return model.StageStatusFallback, eris.Wrap(err, "pipeline: list leads")
	}

	var b strings.Builder
	fmt.Fprintf(&b, icpUserPromptHeader, run.Classification, run.Request.Objective)
	for _, l := range available {
		b.WriteString("- " + l.PromptLine() + "\n")
	}

	text, err := p.ask(ctx, "match_icp", icpSystemPrompt, b.String())
	if err != nil {
		run.ICP = p.fallbackICP(run, available)
		return model.StageStatusFallback, err
	}

	var profile model.ICPProfile
	if err := json.Unmarshal([]byte(stripFences(text)), &profile); err != nil {
		run.ICP = p.fallbackICP(run, available)
		return model.StageStatusFallback, eris.Wrap(err, "pipeline: parse icp response")
	}

	if len(profile.PriorityLeads) > model.MaxPriorityLeads {
		profile.PriorityLeads = profile.PriorityLeads[:model.MaxPriorityLeads]
	}
	if !profile.PreferredChannel.Valid() {
		profile.PreferredChannel = model.ChannelEmail
	}

	run.ICP = &profile
	run.Audit.Append("icp_matcher", fmt.Sprintf("profile built with %d priority leads", len(profile.PriorityLeads)))
	return model.StageStatusOK, nil
}

// fallbackICP produces a generic profile. When leads are available, the
// highest-scored one becomes the single priority lead.
func (p *Pipeline) fallbackICP(run *model.PipelineRun, available []model.Lead) *model.ICPProfile {
	profile := &model.ICPProfile{
		PrimaryDemographic: "Mid-market technology decision makers",
		PainPoints:         []string{"digital transformation", "efficiency", "growth"},
		Objectives:         []string{"increase revenue", "reduce operational cost"},
		PreferredChannel:   model.ChannelEmail,
	}
	if len(available) > 0 {
		best := available[0]
		for _, l := range available[1:] {
			if l.Score > best.Score {
				best = l
			}
		}
		profile.PriorityLeads = []model.PriorityLead{{Lead: best, MatchReason: "highest lead score on file"}}
	}
	run.Audit.Append("icp_matcher", "profile fell back to generic segment")
	return profile
}
