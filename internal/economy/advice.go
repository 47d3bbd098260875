package economy

import (
	"fmt"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
)

const (
	// RiskFloorHP is the absolute HP a player must keep after a session.
	RiskFloorHP = 10
	// SafeRemainingHP is the HP a suggested alternative duration must leave.
	SafeRemainingHP = 20
)

// Canonical reference sessions used to estimate capacity.
const (
	referenceMatchMinutes    = 90
	referenceTrainingMinutes = 60
	referenceSocialMinutes   = 45
)

var alternativeDurations = []int{15, 30, 45, 60, 90, 120}

// SmartWarnings explains how the cost curve affected a session.
// Restorative sessions (HPCost <= 0) are excluded on purpose: their duration
// tiers raise nothing worth warning about.
func SmartWarnings(durationMinutes int, calc CostCalculation) []string {
	if calc.HPCost <= 0 {
		return nil
	}

	var warnings []string
	if durationMinutes > tier1End {
		warnings = append(warnings, "Diminishing returns active: minutes beyond 30 cost less HP each")
	}
	if calc.CapReached {
		warnings = append(warnings, fmt.Sprintf("HP cost capped at %d (uncapped cost would be %d)", calc.MaxHPCost, calc.UncappedCost()))
	}
	if durationMinutes > tier2End {
		perMinute := float64(calc.HPCost) / float64(durationMinutes)
		warnings = append(warnings, fmt.Sprintf("Effective cost is %.2f HP per minute over %d minutes", perMinute, durationMinutes))
	}
	return warnings
}

// HPRecommendations reports how many reference sessions the player can afford
// and what to do when HP runs short.
type HPRecommendations struct {
	MatchCapacity    int      `json:"matchCapacity"`
	TrainingCapacity int      `json:"trainingCapacity"`
	SocialCapacity   int      `json:"socialCapacity"`
	Messages         []string `json:"messages"`
}

func GetHPRecommendations(currentHP int, sessionType domain.SessionType) HPRecommendations {
	hp := max(currentHP, 0)
	matchCost := CalculateSessionCosts(domain.SessionTypeMatch, referenceMatchMinutes).HPCost
	trainingCost := CalculateSessionCosts(domain.SessionTypeTraining, referenceTrainingMinutes).HPCost
	socialCost := CalculateSessionCosts(domain.SessionTypeSocialPlay, referenceSocialMinutes).HPCost

	rec := HPRecommendations{
		MatchCapacity:    hp / matchCost,
		TrainingCapacity: hp / trainingCost,
		SocialCapacity:   hp / socialCost,
	}

	switch {
	case rec.MatchCapacity > 0:
		rec.Messages = append(rec.Messages, fmt.Sprintf("You have enough HP for %d full match(es)", rec.MatchCapacity))
	case rec.TrainingCapacity > 0:
		rec.Messages = append(rec.Messages, "Not enough HP for a full match; training is a better fit right now")
	case rec.SocialCapacity > 0:
		rec.Messages = append(rec.Messages, "HP is too low for matches or training; keep it to social play")
	default:
		rec.Messages = append(rec.Messages, "HP is very low; a wellbeing session will help you recover")
	}

	var ref int
	switch sessionType {
	case domain.SessionTypeMatch:
		ref = matchCost
	case domain.SessionTypeTraining:
		ref = trainingCost
	case domain.SessionTypeSocialPlay:
		ref = socialCost
	default:
		return rec
	}
	if hp < ref {
		rec.Messages = append(rec.Messages, fmt.Sprintf("A typical %s session costs %d HP but you have %d", sessionType, ref, hp))
	}
	return rec
}

type RecoveryLevel string

const (
	RecoveryLight       RecoveryLevel = "light"
	RecoveryModerate    RecoveryLevel = "moderate"
	RecoverySignificant RecoveryLevel = "significant"
)

type RecoveryAdvice struct {
	Level            RecoveryLevel `json:"level"`
	Message          string        `json:"message"`
	WellbeingMinutes int           `json:"wellbeingMinutes"`
}

// GetRecoveryAdvice returns nil for sessions that cost no HP.
func GetRecoveryAdvice(hpCost int) *RecoveryAdvice {
	if hpCost <= 0 {
		return nil
	}

	minutes := ceilDiv(hpCost, minutesPerRestoredHP) * minutesPerRestoredHP
	switch {
	case hpCost <= 15:
		return &RecoveryAdvice{
			Level:            RecoveryLight,
			Message:          fmt.Sprintf("Light recovery: a %d-minute wellbeing session gets you back to full", minutes),
			WellbeingMinutes: minutes,
		}
	case hpCost <= 35:
		return &RecoveryAdvice{
			Level:            RecoveryModerate,
			Message:          fmt.Sprintf("Moderate recovery: plan a %d-minute wellbeing session before your next match", minutes),
			WellbeingMinutes: minutes,
		}
	default:
		return &RecoveryAdvice{
			Level:            RecoverySignificant,
			Message:          fmt.Sprintf("Significant recovery needed: schedule %d minutes of wellbeing and rest", minutes),
			WellbeingMinutes: minutes,
		}
	}
}

// IsSessionTooRisky reports whether the session would leave fewer than
// RiskFloorHP points. The floor is absolute, not relative to max HP.
func IsSessionTooRisky(currentHP int, sessionType domain.SessionType, durationMinutes int) bool {
	calc := CalculateSessionCosts(sessionType, durationMinutes)
	return currentHP-calc.HPCost < RiskFloorHP
}

// SuggestAlternativeDurations returns up to two of the largest candidate
// durations below originalMinutes that leave at least SafeRemainingHP.
func SuggestAlternativeDurations(currentHP int, sessionType domain.SessionType, originalMinutes int) []int {
	var ok []int
	for _, d := range alternativeDurations {
		if d >= originalMinutes {
			continue
		}
		if currentHP-CalculateSessionCosts(sessionType, d).HPCost >= SafeRemainingHP {
			ok = append(ok, d)
		}
	}
	if len(ok) > 2 {
		ok = ok[len(ok)-2:]
	}
	return ok
}

// Preview bundles everything a player sees before committing to a session.
type Preview struct {
	Calculation     CostCalculation   `json:"calculation"`
	HPBefore        int               `json:"hpBefore"`
	HPAfter         int               `json:"hpAfter"`
	Warnings        []string          `json:"warnings"`
	Recommendations HPRecommendations `json:"recommendations"`
	Recovery        *RecoveryAdvice   `json:"recovery,omitempty"`
	TooRisky        bool              `json:"tooRisky"`
	Alternatives    []int             `json:"alternatives,omitempty"`
}

// PreviewSession evaluates a session for a player. HPAfter is clamped to
// [0, maxHP]; when maxHP is not positive only the lower bound applies.
func PreviewSession(currentHP, maxHP int, sessionType domain.SessionType, durationMinutes int) Preview {
	calc := CalculateSessionCosts(sessionType, durationMinutes)

	after := max(currentHP-calc.HPCost, 0)
	if maxHP > 0 {
		after = min(after, maxHP)
	}

	p := Preview{
		Calculation:     calc,
		HPBefore:        currentHP,
		HPAfter:         after,
		Warnings:        SmartWarnings(calc.DurationMinutes, calc),
		Recommendations: GetHPRecommendations(currentHP, sessionType),
		Recovery:        GetRecoveryAdvice(calc.HPCost),
		TooRisky:        IsSessionTooRisky(currentHP, sessionType, durationMinutes),
	}
	if p.TooRisky {
		p.Alternatives = SuggestAlternativeDurations(currentHP, sessionType, calc.DurationMinutes)
	}
	return p
}
