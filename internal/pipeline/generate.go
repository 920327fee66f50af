package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/outreach-cli/internal/model"
)

const emailSystemPrompt = `You are an expert B2B sales copywriter. Write a personalized cold outreach email. Start with a subject line in the form "Subject: ..." on its own line, then the body. Keep the body under 150 words, conversational, with a single clear call to action. Address the recipient by name. Never leave placeholder brackets like [Name] in the output; if a detail is unknown, write around it.`

const linkedinSystemPrompt = `You are a B2B social media strategist. Write a LinkedIn post for the given campaign: a strong hook in the first line, 2-4 short paragraphs, under 1300 characters, ending with 3-5 relevant hashtags. No placeholder brackets.`

const callSystemPrompt = `You are a sales call planner. Write a concise phone call script for an AI voice agent: a one-sentence opener introducing the caller, two or three talking points tied to the prospect's pain points, one qualifying question, and a closing ask for a meeting. Plain prose, no stage directions, under 120 words. No placeholder brackets.`

// generate produces the channel-specific draft. Generation failure is a
// recorded outcome on the draft, never a pipeline error: the run still
// reaches the gate, where a failed draft reads as nothing to approve.
func (p *Pipeline) generate(ctx context.Context, run *model.PipelineRun) (model.StageStatus, error) {
	var system, user, stage string
	switch run.Channel {
	case model.ChannelLinkedIn:
		stage, system, user = "generate_linkedin", linkedinSystemPrompt, p.linkedinPrompt(run)
	case model.ChannelCall:
		stage, system, user = "generate_call", callSystemPrompt, p.callPrompt(run)
	default:
		stage, system, user = "generate_email", emailSystemPrompt, p.emailPrompt(run)
	}

	text, err := p.ask(ctx, stage, system, user)
	if err != nil {
		run.Draft = &model.ContentDraft{
			Channel: run.Channel,
			Status:  model.DraftFailed,
			Reason:  err.Error(),
		}
		run.Audit.Append("generator", "content generation failed for "+string(run.Channel))
		return model.StageStatusFailed, err
	}

	draft := &model.ContentDraft{
		Channel: run.Channel,
		Body:    text,
		Status:  model.DraftGenerated,
	}
	if run.Channel == model.ChannelEmail {
		draft.Subject, draft.Body = ExtractSubject(text)
		if draft.Subject == "" {
			draft.Subject = defaultSubject(run)
		}
	}

	run.Draft = draft
	run.Audit.Append("generator", string(run.Channel)+" draft generated")
	return model.StageStatusOK, nil
}

func (p *Pipeline) senderLine() string {
	s := p.cfg.Pipeline.Sender
	return fmt.Sprintf("%s, %s at %s", s.Name, s.Title, s.Company)
}

func (p *Pipeline) emailPrompt(run *model.PipelineRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sender: %s\n", p.senderLine())
	fmt.Fprintf(&b, "Campaign: %s\n", run.Classification)
	fmt.Fprintf(&b, "Objective: %s\n", run.Request.Objective)
	if lead, ok := run.ICP.TopLead(); ok {
		fmt.Fprintf(&b, "Recipient: %s, %s at %s\n", lead.Name, lead.Role, lead.Company)
		fmt.Fprintf(&b, "Why this recipient: %s\n", lead.MatchReason)
	}
	fmt.Fprintf(&b, "Recipient pain points: %s\n", run.ICP.PainPointsLine())
	return b.String()
}

func (p *Pipeline) linkedinPrompt(run *model.PipelineRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Author: %s\n", p.senderLine())
	fmt.Fprintf(&b, "Campaign: %s\n", run.Classification)
	fmt.Fprintf(&b, "Objective: %s\n", run.Request.Objective)
	if run.ICP != nil {
		fmt.Fprintf(&b, "Target audience: %s\n", run.ICP.PrimaryDemographic)
	}
	fmt.Fprintf(&b, "Audience pain points: %s\n", run.ICP.PainPointsLine())
	return b.String()
}

func (p *Pipeline) callPrompt(run *model.PipelineRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Caller: %s\n", p.senderLine())
	fmt.Fprintf(&b, "Campaign: %s\n", run.Classification)
	fmt.Fprintf(&b, "Objective: %s\n", run.Request.Objective)
	if lead, ok := run.ICP.TopLead(); ok {
		fmt.Fprintf(&b, "Prospect: %s, %s at %s\n", lead.Name, lead.Role, lead.Company)
	}
	fmt.Fprintf(&b, "Prospect pain points: %s\n", run.ICP.PainPointsLine())
	return b.String()
}

// ExtractSubject scans the first few lines of generated email text for a
// subject line and returns (subject, body) with the subject line removed.
// When none is found, the subject is empty and the body is unchanged.
func ExtractSubject(text string) (string, string) {
	lines := strings.Split(text, "\n")
	limit := min(len(lines), 3)

	for i := 0; i < limit; i++ {
		trimmed := strings.TrimSpace(lines[i])
		lower := strings.ToLower(trimmed)
		if !strings.HasPrefix(lower, "subject:") && !strings.HasPrefix(lower, "**subject:") {
			continue
		}
		subject := trimmed[strings.Index(lower, "subject:")+len("subject:"):]
		subject = strings.Trim(strings.TrimSpace(subject), `*"`)

		rest := append(append([]string{}, lines[:i]...), lines[i+1:]...)
		body := strings.TrimSpace(strings.Join(rest, "\n"))
		return subject, body
	}
	return "", text
}

func defaultSubject(run *model.PipelineRun) string {
	if run.Classification != "" {
		return run.Classification
	}
	return "Quick question"
}
