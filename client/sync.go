package client

import (
	"context"

	log "github.com/sirupsen/logrus"

	"slotboard/domain"
)

// Target receives fresh initiatives. *board.Board satisfies it.
type Target interface {
	SetInitiatives([]domain.Initiative)
}

// Revalidator refetches the initiatives after a committed mutation and hands
// them to the board.
type Revalidator struct {
	Client *Client
	Target Target
	Logger *log.Logger
	// OnRefresh runs after the target was updated.
	OnRefresh func()
}

func (r *Revalidator) Revalidate(ctx context.Context) {
	initiatives, err := r.Client.FetchInitiatives(ctx)
	if err != nil {
		if r.Logger != nil {
			r.Logger.WithError(err).Warn("board revalidation failed")
		}
		return
	}
	r.Target.SetInitiatives(initiatives)
	if r.OnRefresh != nil {
		r.OnRefresh()
	}
}

// InitiativesFromView rebuilds the initiative list from a board snapshot.
func InitiativesFromView(v domain.BoardView) []domain.Initiative {
	out := make([]domain.Initiative, 0, len(v.Slots)+len(v.Pool))
	for _, s := range v.Slots {
		if s.Initiative != nil {
			out = append(out, *s.Initiative)
		}
	}
	return append(out, v.Pool...)
}
