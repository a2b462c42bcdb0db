// Package policy decides how much autonomy an action gets. The decision is
// a pure function of the principal's trust in the action's category and the
// action's risk score; it carries no state of its own.
package policy

// ExecutionMode is the policy's output: how an action may proceed.
type ExecutionMode string

const (
	// ModeAutoExecute executes immediately with no undo window.
	ModeAutoExecute ExecutionMode = "auto_execute"

	// ModeExecuteAndNotify executes immediately but keeps the effect
	// reversible for a bounded undo window.
	ModeExecuteAndNotify ExecutionMode = "execute_and_notify"

	// ModeApprovePlan holds for human approval; several pending actions
	// may be approved in one batch.
	ModeApprovePlan ExecutionMode = "approve_plan"

	// ModeApproveEach holds for human approval one action at a time.
	ModeApproveEach ExecutionMode = "approve_each"
)

// AutoAuthorizing reports whether the mode executes without a human
// approval step.
func (m ExecutionMode) AutoAuthorizing() bool {
	return m == ModeAutoExecute || m == ModeExecuteAndNotify
}

// Strictness orders modes from most autonomous (0) to most restrictive (3).
func (m ExecutionMode) Strictness() int {
	switch m {
	case ModeAutoExecute:
		return 0
	case ModeExecuteAndNotify:
		return 1
	case ModeApprovePlan:
		return 2
	default:
		return 3
	}
}

// Risk band boundaries. Bands keep the matrix small enough to reason about
// while the trust thresholds inside each band do the fine-grained work.
const (
	riskBandCritical = 0.9
	riskBandHigh     = 0.6
	riskBandModerate = 0.3
)

// Decide maps (trust, risk) to an execution mode.
//
// The matrix is monotone: for fixed risk, more trust never yields a more
// restrictive mode; for fixed trust, more risk never yields a laxer one.
func Decide(trust, risk float64) ExecutionMode {
	switch {
	case risk >= riskBandCritical:
		if trust >= 0.9 {
			return ModeApprovePlan
		}
		return ModeApproveEach

	case risk >= riskBandHigh:
		switch {
		case trust < 0.3:
			return ModeApproveEach
		case trust < 0.75:
			return ModeApprovePlan
		default:
			return ModeExecuteAndNotify
		}

	case risk >= riskBandModerate:
		switch {
		case trust < 0.25:
			return ModeApprovePlan
		case trust < 0.8:
			return ModeExecuteAndNotify
		default:
			return ModeAutoExecute
		}

	default:
		if trust < 0.35 {
			return ModeExecuteAndNotify
		}
		return ModeAutoExecute
	}
}
