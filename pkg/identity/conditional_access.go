package identity

import (
	"net"
	"sync"
	"time"
)

// Conditional-access style context predicates (SPEC_FULL Supplemented
// Feature #4): a pre-decision gate that can short-circuit a request to
// Deny/RequireMFA before the CEL decision engine (C7) runs, and that also
// exposes its inputs as a typed context map identity policies and SCPs can
// reference directly (context.source_ip, context.mfa_present, ...) — this
// is the concrete shape of the "request context" C7's EvaluationBundle
// leaves abstract.

// AccessDecision is the outcome of a conditional-access evaluation.
type AccessDecision string

const (
	AccessAllow           AccessDecision = "ALLOW"
	AccessDeny            AccessDecision = "DENY"
	AccessRequireMFA      AccessDecision = "REQUIRE_MFA"
	AccessRequireApproval AccessDecision = "REQUIRE_APPROVAL"
)

// AccessContext carries the contextual signals a conditional-access policy
// matches against, and doubles as the source of the decision request's
// context map once folded via ToContextMap.
type AccessContext struct {
	PrincipalID   string
	PrincipalType PrincipalType
	SourceIP      string
	DeviceType    string // "managed", "unmanaged", "mobile"
	Location      string // ISO 3166-1 country code
	RequestTime   time.Time
	Resource      string // target resource HRN
	RiskScore     float64
	AccountID     string
	SessionAge    time.Duration
	MFAPresent    bool
}

// ToContextMap folds the access context into the typed map a policylang
// Request carries, so identity policies and SCPs can reference these
// signals via CEL (e.g. `context.mfa_present`, `context.risk_score`).
func (c AccessContext) ToContextMap() map[string]any {
	return map[string]any{
		"source_ip":   c.SourceIP,
		"device_type": c.DeviceType,
		"location":    c.Location,
		"risk_score":  c.RiskScore,
		"account_id":  c.AccountID,
		"session_age": c.SessionAge.Seconds(),
		"mfa_present": c.MFAPresent,
	}
}

// ConditionalPolicy defines a context-aware pre-decision restriction,
// scoped to one account or applied globally when AccountID is empty.
type ConditionalPolicy struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Priority   int              `json:"priority"` // Lower = higher priority
	Active     bool             `json:"active"`
	Conditions PolicyConditions `json:"conditions"`
	Decision   AccessDecision   `json:"decision"`
	AccountID  string           `json:"account_id,omitempty"` // Empty = global
}

// PolicyConditions defines the matching criteria for a policy.
type PolicyConditions struct {
	// Network restrictions
	AllowedIPRanges []string `json:"allowed_ip_ranges,omitempty"`
	DeniedIPRanges  []string `json:"denied_ip_ranges,omitempty"`

	// Device restrictions
	AllowedDeviceTypes []string `json:"allowed_device_types,omitempty"`

	// Location restrictions
	AllowedLocations []string `json:"allowed_locations,omitempty"`
	DeniedLocations  []string `json:"denied_locations,omitempty"`

	// Time restrictions
	AllowedTimeWindows []TimeWindow `json:"allowed_time_windows,omitempty"`

	// Principal restrictions
	PrincipalTypes []PrincipalType `json:"principal_types,omitempty"`

	// Risk threshold
	MaxRiskScore float64 `json:"max_risk_score,omitempty"`
}

// TimeWindow defines an allowed time range.
type TimeWindow struct {
	Weekdays  []time.Weekday `json:"weekdays"`
	StartHour int            `json:"start_hour"` // 0-23
	EndHour   int            `json:"end_hour"`   // 0-23
}

// ConditionalAccessEngine evaluates pre-decision gates against context,
// independent of and ahead of the CEL decision engine.
type ConditionalAccessEngine struct {
	mu       sync.RWMutex
	policies []*ConditionalPolicy
}

// NewConditionalAccessEngine creates a new engine.
func NewConditionalAccessEngine() *ConditionalAccessEngine {
	return &ConditionalAccessEngine{
		policies: make([]*ConditionalPolicy, 0),
	}
}

// AddPolicy registers a conditional access policy. Policies are sorted by priority.
func (e *ConditionalAccessEngine) AddPolicy(p *ConditionalPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = append(e.policies, p)
	// Sort by priority (lower = higher priority)
	for i := len(e.policies) - 1; i > 0; i-- {
		if e.policies[i].Priority < e.policies[i-1].Priority {
			e.policies[i], e.policies[i-1] = e.policies[i-1], e.policies[i]
		}
	}
}

// Evaluate checks all active policies against the given context.
// Returns the decision from the first matching policy, or ALLOW if none
// match — ALLOW means "proceed to the CEL decision engine", not "grant
// access"; the engine still makes the final authorization call.
func (e *ConditionalAccessEngine) Evaluate(ctx AccessContext) AccessDecision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, p := range e.policies {
		if !p.Active {
			continue
		}
		// Account scoping
		if p.AccountID != "" && p.AccountID != ctx.AccountID {
			continue
		}
		if e.matchesConditions(p.Conditions, ctx) {
			return p.Decision
		}
	}

	return AccessAllow
}

func (e *ConditionalAccessEngine) matchesConditions(cond PolicyConditions, ctx AccessContext) bool {
	// Check IP restrictions
	if len(cond.DeniedIPRanges) > 0 && matchIP(ctx.SourceIP, cond.DeniedIPRanges) {
		return true
	}
	if len(cond.AllowedIPRanges) > 0 && !matchIP(ctx.SourceIP, cond.AllowedIPRanges) {
		return true
	}

	// Check device type
	if len(cond.AllowedDeviceTypes) > 0 && !contains(cond.AllowedDeviceTypes, ctx.DeviceType) {
		return true
	}

	// Check location
	if len(cond.DeniedLocations) > 0 && contains(cond.DeniedLocations, ctx.Location) {
		return true
	}
	if len(cond.AllowedLocations) > 0 && !contains(cond.AllowedLocations, ctx.Location) {
		return true
	}

	// Check time windows
	if len(cond.AllowedTimeWindows) > 0 && !matchTimeWindow(ctx.RequestTime, cond.AllowedTimeWindows) {
		return true
	}

	// Check principal types
	if len(cond.PrincipalTypes) > 0 && !containsPT(cond.PrincipalTypes, ctx.PrincipalType) {
		return true
	}

	// Check risk score
	if cond.MaxRiskScore > 0 && ctx.RiskScore > cond.MaxRiskScore {
		return true
	}

	return false
}

func matchIP(ip string, ranges []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, cidr := range ranges {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			// Try as exact IP
			if ip == cidr {
				return true
			}
			continue
		}
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

func matchTimeWindow(t time.Time, windows []TimeWindow) bool {
	for _, w := range windows {
		for _, wd := range w.Weekdays {
			if t.Weekday() == wd && t.Hour() >= w.StartHour && t.Hour() < w.EndHour {
				return true
			}
		}
	}
	return false
}

func contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}

func containsPT(slice []PrincipalType, val PrincipalType) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
