// Package model defines the records the webhook receiver persists.
package model

import "time"

// PersonaSection1 is the first persona interview section, sent by the
// conversational platform's webhook after each session. Each variable
// comes with a quality grade assigned by the agent.
type PersonaSection1 struct {
	SessionID string `json:"session_id"`

	BroadDomainExpertise        string `json:"broad_domain_expertise"`
	BroadDomainExpertiseQuality string `json:"broad_domain_expertise_quality"`

	SpecificNicheFocus        string `json:"specific_niche_focus"`
	SpecificNicheFocusQuality string `json:"specific_niche_focus_quality"`

	IdealClientDefinition        string `json:"ideal_client_definition"`
	IdealClientDefinitionQuality string `json:"ideal_client_definition_quality"`

	TargetCustomerProblems        string `json:"target_customer_problems"`
	TargetCustomerProblemsQuality string `json:"target_customer_problems_quality"`

	SignatureOutcomes        string `json:"signature_outcomes"`
	SignatureOutcomesQuality string `json:"signature_outcomes_quality"`

	UpdatedAt time.Time `json:"updated_at,omitempty"`
}
