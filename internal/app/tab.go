package app

import (
	"errors"
	"fmt"

	"github.com/Aaron1234413/rallylife-ace-arena-sub005/internal/domain"
	"github.com/google/uuid"
)

// Tab selects which sessions a listing shows.
type Tab string

const (
	TabMySessions Tab = "my-sessions"
	TabAvailable  Tab = "available"
	TabCompleted  Tab = "completed"
)

var ErrInvalidTab = errors.New("invalid tab")

func ParseTab(s string) (Tab, error) {
	switch t := Tab(s); t {
	case TabMySessions, TabAvailable, TabCompleted:
		return t, nil
	case "":
		return TabMySessions, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTab, s)
	}
}

// Filter maps the tab to a storage filter for the given viewer.
//   - my-sessions: created by the user or joined by them
//   - available: waiting and public
//   - completed: completed and involving the user
func (t Tab) Filter(userID uuid.UUID) domain.SessionFilter {
	switch t {
	case TabAvailable:
		return domain.SessionFilter{
			Statuses:   []domain.SessionStatus{domain.SessionStatusWaiting},
			PublicOnly: true,
		}
	case TabCompleted:
		return domain.SessionFilter{
			Statuses:      []domain.SessionStatus{domain.SessionStatusCompleted},
			InvolvingUser: &userID,
		}
	default:
		return domain.SessionFilter{InvolvingUser: &userID}
	}
}

const unknownCreator = "Unknown"

// toView derives the per-viewer fields from an eager-loaded record.
func toView(rec domain.SessionRecord, userID uuid.UUID) domain.SessionView {
	view := domain.SessionView{Session: rec.Session, CreatorName: unknownCreator}
	if rec.CreatorName != nil && *rec.CreatorName != "" {
		view.CreatorName = *rec.CreatorName
	}
	for _, p := range rec.Participants {
		if p.Status != domain.ParticipantJoined {
			continue
		}
		view.ParticipantCount++
		if p.UserID == userID {
			view.UserJoined = true
		}
	}
	return view
}
