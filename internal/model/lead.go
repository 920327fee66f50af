package model

import (
	"fmt"
	"strings"
)

// Lead is a contact pulled from the lead source. The pipeline treats leads
// as read-only; ownership stays with the contact store.
type Lead struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	Company string `json:"company"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Score   int    `json:"lead_score"`
}

// PromptLine renders the lead as a single line for inclusion in an ICP
// matching prompt.
func (l Lead) PromptLine() string {
	return fmt.Sprintf("Name: %s, Role: %s, Company: %s, Email: %s, Phone: %s, Lead Score: %d",
		l.Name, l.Role, l.Company, l.Email, l.Phone, l.Score)
}

// PriorityLead is a lead selected during ICP matching, with the model's
// rationale for the match.
type PriorityLead struct {
	Lead
	MatchReason string `json:"reason_for_match"`
}

// MaxPriorityLeads caps how many matched leads an ICP profile carries.
const MaxPriorityLeads = 3

// ICPProfile describes the ideal customer segment for a classified request.
// Built once per pipeline run and never mutated afterward.
type ICPProfile struct {
	PrimaryDemographic string         `json:"primary_demographic"`
	PainPoints         []string       `json:"pain_points"`
	Objectives         []string       `json:"business_objectives"`
	PreferredChannel   Channel        `json:"historical_best_channel"`
	PriorityLeads      []PriorityLead `json:"priority_leads"`
}

// TopLead returns the highest-priority matched lead, or false when the
// profile carries none.
func (p *ICPProfile) TopLead() (PriorityLead, bool) {
	if p == nil || len(p.PriorityLeads) == 0 {
		return PriorityLead{}, false
	}
	return p.PriorityLeads[0], true
}

// PainPointsLine joins the profile's pain points for prompt interpolation.
func (p *ICPProfile) PainPointsLine() string {
	if p == nil || len(p.PainPoints) == 0 {
		return "digital transformation, efficiency, growth"
	}
	return strings.Join(p.PainPoints, ", ")
}
