package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/outreach-cli/internal/model"
)

const classifySystemPrompt = `You are a B2B marketing strategist. Classify the incoming outreach request into a short campaign category such as "Enterprise SaaS Outreach", "SMB Growth Campaign", "Event Follow-Up" or a similarly concise label you judge more accurate. Respond with the category label only, no explanation.`

const classifyUserPrompt = `Objective: %s
Intent: %s
Urgency: %s
Location: %s`

// classify labels the request with a campaign category. On any LLM failure
// the configured default classification is used and the stage reports
// fallback.
func (p *Pipeline) classify(ctx context.Context, run *model.PipelineRun) (model.StageStatus, error) {
	user := fmt.Sprintf(classifyUserPrompt,
		run.Request.Objective,
		run.Request.Intent,
		run.Request.Urgency,
		run.Request.Location,
	)

	text, err := p.ask(ctx, "classify", classifySystemPrompt, user)
	if err != nil {
		run.Classification = p.cfg.Pipeline.DefaultClassification
		run.Audit.Append("classifier", "classification fell back to default: "+run.Classification)
		return model.StageStatusFallback, err
	}

	// Models occasionally wrap the label in quotes or trailing punctuation.
	label := strings.Trim(strings.TrimSpace(text), `"'.`)
	if label == "" {
		run.Classification = p.cfg.Pipeline.DefaultClassification
		return model.StageStatusFallback, nil
	}
	if len(label) > 80 {
		label = label[:80]
	}

	run.Classification = label
	run.Audit.Append("classifier", "request classified as: "+label)
	return model.StageStatusOK, nil
}
