package admission

import (
	"strings"
	"time"

	"github.com/sitedrop/sitedrop/internal/domain"
)

// Admission limits for the global deploy counters.
const (
	DailyQuota      = 50
	CooldownSeconds = 300
	// ResetWindowMS is the lazy quota reset horizon, compared in
	// milliseconds against the persisted second-resolution timestamp.
	ResetWindowMS = 86_400_000

	// StatusSentinel marks a deploy request as a status probe.
	StatusSentinel = "quota-check"
)

// IsStatusProbe reports whether a request name asks for quota status
// instead of a deploy.
func IsStatusProbe(name string) bool {
	trimmed := strings.TrimSpace(name)
	return trimmed == "" || trimmed == StatusSentinel
}

// ResetDue reports whether more than 24h elapsed since the last deploy.
// A zero timestamp counts as overdue, which keeps a never-deployed state
// at zero usage.
func ResetDue(state domain.QuotaState, now time.Time) bool {
	return now.UnixMilli()-state.LastDeployTS*1000 > ResetWindowMS
}

// Evaluate decides whether a deploy attempt may proceed. It is a pure
// function of the state and the clock; callers persist any lazy reset and
// counter mutation themselves.
func Evaluate(state domain.QuotaState, now time.Time) domain.AdmissionDecision {
	if ResetDue(state, now) {
		state.QuotaUsed = 0
	}
	if state.QuotaUsed >= DailyQuota {
		return domain.AdmissionDecision{
			Kind:           domain.DecisionRejectQuota,
			RemainingQuota: 0,
			Cooldown:       true,
		}
	}
	elapsed := now.Unix() - state.LastDeployTS
	if state.LastDeployTS > 0 && elapsed < CooldownSeconds {
		return domain.AdmissionDecision{
			Kind:             domain.DecisionRejectCooldown,
			RemainingQuota:   DailyQuota - state.QuotaUsed,
			Cooldown:         true,
			RemainingSeconds: CooldownSeconds - elapsed,
		}
	}
	return domain.AdmissionDecision{
		Kind:           domain.DecisionAdmit,
		RemainingQuota: DailyQuota - state.QuotaUsed,
	}
}

// Status reports remaining quota and cooldown without consuming anything.
// It never rejects: probes always answer with the current counters.
func Status(state domain.QuotaState, now time.Time) domain.AdmissionDecision {
	if ResetDue(state, now) {
		state.QuotaUsed = 0
	}
	decision := domain.AdmissionDecision{
		Kind:           domain.DecisionStatusOnly,
		RemainingQuota: DailyQuota - state.QuotaUsed,
	}
	if decision.RemainingQuota < 0 {
		decision.RemainingQuota = 0
	}
	elapsed := now.Unix() - state.LastDeployTS
	if state.LastDeployTS > 0 && elapsed < CooldownSeconds {
		decision.Cooldown = true
		decision.RemainingSeconds = CooldownSeconds - elapsed
	}
	return decision
}
