package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sells-group/outreach-cli/internal/model"
)

// wantsCall matches explicit whole-word call requests in the objective or
// intent. Substrings inside other words ("recall", "calling card" is fine,
// "callback" is not a call request) do not match.
var wantsCall = regexp.MustCompile(`(?i)\b(call me|call now|urgent call|call|phone|ring|dial)\b`)

// thoughtLeadership matches requests aimed at public visibility rather than
// one recipient.
var thoughtLeadership = regexp.MustCompile(`(?i)\b(thought leadership|brand awareness|announcement|public post|audience|visibility)\b`)

// Signals carries the routing inputs derived from a run.
type Signals struct {
	Objective string
	Intent    string
	Urgency   model.Urgency
	HasPhone  bool
	HasEmail  bool
	Preferred model.Channel
}

// Decide applies the deterministic precedence rules. It returns the chosen
// channel and a human-readable rationale, or ok == false when no rule fires
// and the decision falls to the advisory model.
func Decide(sig Signals) (model.Channel, string, bool) {
	text := sig.Objective + " " + sig.Intent

	if wantsCall.MatchString(text) && sig.HasPhone {
		return model.ChannelCall, "explicit call request with phone number on file", true
	}
	if sig.Urgency == model.UrgencyHigh && sig.HasPhone {
		return model.ChannelCall, "high urgency with phone number on file", true
	}
	if thoughtLeadership.MatchString(text) {
		return model.ChannelLinkedIn, "thought-leadership objective favors a public post", true
	}
	return "", "", false
}

const routeSystemPrompt = `You are a B2B outreach strategist choosing a delivery channel. Respond with exactly one word: linkedin, email, or call.`

const routeUserPrompt = `Objective: %s
Intent: %s
Urgency: %s
Ideal customer profile: %s
Historically best channel for this segment: %s
Recipient has phone number: %t
Recipient has email: %t`

// route selects the outbound channel. Deterministic precedence rules win;
// the model is advisory only, and its answer is validated against the closed
// channel set.
func (p *Pipeline) route(ctx context.Context, run *model.PipelineRun) (model.StageStatus, error) {
	sig := Signals{
		Objective: run.Request.Objective,
		Intent:    run.Request.Intent,
		Urgency:   run.Request.Urgency,
		HasPhone:  p.targetPhone(run) != "",
		HasEmail:  p.targetEmail(run) != "",
	}
	if run.ICP != nil {
		sig.Preferred = run.ICP.PreferredChannel
	}

	if ch, rationale, ok := Decide(sig); ok {
		run.Channel = ch
		run.Audit.Append("router", "routed to "+string(ch)+": "+rationale)
		return model.StageStatusOK, nil
	}

	demographic := ""
	if run.ICP != nil {
		demographic = run.ICP.PrimaryDemographic
	}
	user := fmt.Sprintf(routeUserPrompt,
		sig.Objective, sig.Intent, sig.Urgency,
		demographic, sig.Preferred, sig.HasPhone, sig.HasEmail,
	)

	text, err := p.ask(ctx, "route", routeSystemPrompt, user)
	if err != nil {
		run.Channel = fallbackChannel(sig)
		run.Audit.Append("router", "routing fell back to "+string(run.Channel))
		return model.StageStatusFallback, err
	}

	ch, valid := model.ParseChannel(strings.TrimSpace(text))
	run.Channel = ch
	if !valid {
		run.Audit.Append("router", "advisory produced unknown channel, coerced to email")
		return model.StageStatusFallback, nil
	}
	run.Audit.Append("router", "routed to "+string(ch)+" by advisory model")
	return model.StageStatusOK, nil
}

// fallbackChannel picks a channel without the advisory model: the segment's
// historical best when it is a declared channel, otherwise email.
func fallbackChannel(sig Signals) model.Channel {
	if sig.Preferred.Valid() {
		return sig.Preferred
	}
	return model.ChannelEmail
}

// targetEmail resolves the recipient address: an explicit request target wins
// over the top priority lead.
func (p *Pipeline) targetEmail(run *model.PipelineRun) string {
	if run.Request.TargetEmail != "" {
		return run.Request.TargetEmail
	}
	if lead, ok := run.ICP.TopLead(); ok {
		return lead.Email
	}
	return ""
}

// targetPhone resolves the recipient phone number the same way.
func (p *Pipeline) targetPhone(run *model.PipelineRun) string {
	if run.Request.TargetPhone != "" {
		return run.Request.TargetPhone
	}
	if lead, ok := run.ICP.TopLead(); ok {
		return lead.Phone
	}
	return ""
}
