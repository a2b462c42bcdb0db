package action

import (
	"fmt"

	"github.com/tillerhq/tiller/internal/domain"
)

const (
	maxTitleLength = 256
	maxTextLength  = 4096
)

// Validate checks a submit request before anything is persisted.
// All failures wrap domain.ErrValidation.
func (r SubmitRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user_id is required", domain.ErrValidation)
	}
	if r.Agent == "" {
		return fmt.Errorf("%w: agent is required", domain.ErrValidation)
	}
	if r.ActionType == "" {
		return fmt.Errorf("%w: action_type is required", domain.ErrValidation)
	}
	if r.Title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrValidation)
	}
	if len(r.Title) > maxTitleLength {
		return fmt.Errorf("%w: title too long (max %d)", domain.ErrValidation, maxTitleLength)
	}
	if len(r.Description) > maxTextLength {
		return fmt.Errorf("%w: description too long (max %d)", domain.ErrValidation, maxTextLength)
	}
	if len(r.Reasoning) > maxTextLength {
		return fmt.Errorf("%w: reasoning too long (max %d)", domain.ErrValidation, maxTextLength)
	}
	if !r.RiskLevel.Valid() {
		return fmt.Errorf("%w: unknown risk_level %q", domain.ErrValidation, r.RiskLevel)
	}
	if r.RiskScore != nil && (*r.RiskScore < 0 || *r.RiskScore > 1) {
		return fmt.Errorf("%w: risk_score must be within [0,1]", domain.ErrValidation)
	}
	return nil
}
