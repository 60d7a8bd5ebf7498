package domain

// QuotaState is the single durable admission record shared by every deploy
// request. LastDeployTS is seconds since the Unix epoch; zero means the
// service has never deployed.
type QuotaState struct {
	QuotaUsed    int   `json:"quotaUsed"`
	LastDeployTS int64 `json:"lastDeployTimestamp"`
}

// DecisionKind enumerates admission outcomes.
type DecisionKind int

const (
	DecisionAdmit DecisionKind = iota
	DecisionRejectQuota
	DecisionRejectCooldown
	DecisionStatusOnly
)

// AdmissionDecision is the result of evaluating quota state against the
// clock. RemainingSeconds is only meaningful when Cooldown is true.
type AdmissionDecision struct {
	Kind             DecisionKind
	RemainingQuota   int
	Cooldown         bool
	RemainingSeconds int64
}
