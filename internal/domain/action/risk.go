package action

// RiskLevel is the ordinal risk classification supplied by the agent.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether the level is one of the known ordinals.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// Score maps the ordinal level to its default continuous risk score.
// This is the single deterministic mapping used everywhere a default
// risk score is needed.
func (l RiskLevel) Score() float64 {
	switch l {
	case RiskLow:
		return 0.1
	case RiskMedium:
		return 0.4
	case RiskHigh:
		return 0.7
	case RiskCritical:
		return 0.95
	default:
		// Unknown levels are treated as critical rather than benign.
		return 0.95
	}
}

// ResolveRiskScore returns the explicit score when one was supplied and in
// range, otherwise the deterministic default for the level.
func ResolveRiskScore(level RiskLevel, explicit *float64) float64 {
	if explicit != nil && *explicit >= 0 && *explicit <= 1 {
		return *explicit
	}
	return level.Score()
}
