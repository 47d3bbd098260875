package economy

import "github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"

// Tier boundaries on the minute axis and their multipliers in tenths.
const (
	tier1End = 30
	tier2End = 60
	tier3End = 120

	tier1Mult = 10
	tier2Mult = 7
	tier3Mult = 4
	tier4Mult = 2
)

const (
	wellbeingMinRestore = 5
	wellbeingMaxRestore = 25
	minutesPerRestoredHP = 5
)

// costParams holds per-type curve parameters. perMinuteTenths is the per-minute
// HP cost times ten.
type costParams struct {
	base            int
	perMinuteTenths int
	cap             int
}

var (
	matchParams    = costParams{base: 10, perMinuteTenths: 15, cap: 60}
	socialParams   = costParams{base: 5, perMinuteTenths: 10, cap: 40}
	trainingParams = costParams{base: 8, perMinuteTenths: 12, cap: 35}
	defaultParams  = costParams{base: 5, perMinuteTenths: 10, cap: 30}
)

func paramsFor(t domain.SessionType) costParams {
	switch t {
	case domain.SessionTypeMatch:
		return matchParams
	case domain.SessionTypeSocialPlay:
		return socialParams
	case domain.SessionTypeTraining:
		return trainingParams
	default:
		return defaultParams
	}
}

// XPRate returns the XP earned per minute for a session type.
func XPRate(t domain.SessionType) int {
	switch t {
	case domain.SessionTypeTraining:
		return 12
	case domain.SessionTypeMatch, domain.SessionTypeSocialPlay:
		return 8
	default:
		return 5
	}
}

type TierBreakdown struct {
	Tier1Minutes int `json:"tier1Minutes"`
	Tier2Minutes int `json:"tier2Minutes"`
	Tier3Minutes int `json:"tier3Minutes"`
	Tier4Minutes int `json:"tier4Minutes"`
}

// CostCalculation is the full HP/XP result for one session. HPCost is signed:
// negative values are restoration.
type CostCalculation struct {
	SessionType     domain.SessionType `json:"sessionType"`
	DurationMinutes int                `json:"durationMinutes"`
	HPCost          int                `json:"hpCost"`
	XPGain          int                `json:"xpGain"`
	BaseHPCost      int                `json:"baseHpCost"`
	MaxHPCost       int                `json:"maxHpCost"`
	Tier1Cost       int                `json:"tier1Cost"`
	Tier2Cost       int                `json:"tier2Cost"`
	Tier3Cost       int                `json:"tier3Cost"`
	Tier4Cost       int                `json:"tier4Cost"`
	CapReached      bool               `json:"capReached"`
	Breakdown       TierBreakdown      `json:"breakdown"`
}

// UncappedCost is base plus the sum of rounded tier costs.
func (c CostCalculation) UncappedCost() int {
	return c.BaseHPCost + c.Tier1Cost + c.Tier2Cost + c.Tier3Cost + c.Tier4Cost
}

// CalculateSessionCosts computes HP cost (or restoration) and XP gain.
func CalculateSessionCosts(sessionType domain.SessionType, durationMinutes int) CostCalculation {
	d := max(durationMinutes, 0)

	calc := CostCalculation{
		SessionType:     sessionType,
		DurationMinutes: d,
		XPGain:          d * XPRate(sessionType),
	}

	if sessionType == domain.SessionTypeWellbeing {
		calc.HPCost = -wellbeingRestore(d)
		return calc
	}

	p := paramsFor(sessionType)
	calc.BaseHPCost = p.base
	calc.MaxHPCost = p.cap
	calc.Breakdown = splitTiers(d)

	calc.Tier1Cost = tierCost(calc.Breakdown.Tier1Minutes, p.perMinuteTenths, tier1Mult)
	calc.Tier2Cost = tierCost(calc.Breakdown.Tier2Minutes, p.perMinuteTenths, tier2Mult)
	calc.Tier3Cost = tierCost(calc.Breakdown.Tier3Minutes, p.perMinuteTenths, tier3Mult)
	calc.Tier4Cost = tierCost(calc.Breakdown.Tier4Minutes, p.perMinuteTenths, tier4Mult)

	uncapped := calc.UncappedCost()
	calc.HPCost = min(uncapped, p.cap)
	calc.CapReached = uncapped > p.cap
	return calc
}

func splitTiers(d int) TierBreakdown {
	return TierBreakdown{
		Tier1Minutes: min(d, tier1End),
		Tier2Minutes: clamp(d-tier1End, 0, tier2End-tier1End),
		Tier3Minutes: clamp(d-tier2End, 0, tier3End-tier2End),
		Tier4Minutes: max(d-tier3End, 0),
	}
}

// tierCost rounds minutes*perMinute*multiplier half up. Both factors are in
// tenths, so the exact product is scaled by 100.
func tierCost(minutes, perMinuteTenths, multTenths int) int {
	return (minutes*perMinuteTenths*multTenths + 50) / 100
}

func wellbeingRestore(d int) int {
	return clamp(ceilDiv(d, minutesPerRestoredHP), wellbeingMinRestore, wellbeingMaxRestore)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
