package handler

import (
	"context"
	"fmt"
	"net/url"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/resilience"
	"github.com/openhearth/hearth/internal/types"
)

// Sports answers score, schedule, and standings queries for a named team.
type Sports struct {
	up upstream
}

func NewSports(ep config.Endpoint, budget *resilience.Budget) *Sports {
	return &Sports{up: newUpstream("sports", types.CategorySports, ep, budget)}
}

func (h *Sports) Name() string { return "sports" }

type sportsReply struct {
	Team     string `json:"team"`
	Opponent string `json:"opponent"`

	// Score fields.
	TeamScore     int    `json:"team_score"`
	OpponentScore int    `json:"opponent_score"`
	Status        string `json:"status"` // "final", "in_progress", "scheduled"

	// Schedule fields.
	StartTime string `json:"start_time"`
	Venue     string `json:"venue"`

	// Standings fields.
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Rank     int    `json:"rank"`
	Division string `json:"division"`
}

func (h *Sports) Handle(ctx context.Context, in Input) (Result, error) {
	if !h.up.configured() {
		return Result{}, fmt.Errorf("handler: sports not configured: %w", types.ErrNotApplicable)
	}
	team := in.Intent.Entities["team"]
	if team == "" {
		// Nothing to look up without a team; let a later path answer.
		return Result{}, fmt.Errorf("handler: no team entity: %w", types.ErrNotApplicable)
	}

	q := url.Values{"team": {team}}
	var path string
	switch in.Intent.Kind {
	case "sports.schedule":
		path = "/v1/schedule"
	case "sports.standings":
		path = "/v1/standings"
	default:
		path = "/v1/score"
	}

	var reply sportsReply
	if err := h.up.getJSON(ctx, path, q, &reply); err != nil {
		return Result{}, err
	}
	return Result{Answer: h.format(in.Intent.Kind, reply), Source: "sports"}, nil
}

func (h *Sports) format(kind string, r sportsReply) string {
	switch kind {
	case "sports.schedule":
		if r.Venue != "" {
			return fmt.Sprintf("The %s play the %s %s at %s.", r.Team, r.Opponent, r.StartTime, r.Venue)
		}
		return fmt.Sprintf("The %s play the %s %s.", r.Team, r.Opponent, r.StartTime)
	case "sports.standings":
		return fmt.Sprintf("The %s are %d and %d, ranked %s in the %s.",
			r.Team, r.Wins, r.Losses, ordinal(r.Rank), r.Division)
	default:
		switch r.Status {
		case "in_progress":
			return fmt.Sprintf("The %s are playing the %s right now, %d to %d.",
				r.Team, r.Opponent, r.TeamScore, r.OpponentScore)
		case "scheduled":
			return fmt.Sprintf("The %s haven't played yet; they face the %s %s.",
				r.Team, r.Opponent, r.StartTime)
		default:
			if r.TeamScore >= r.OpponentScore {
				return fmt.Sprintf("The %s beat the %s %d to %d.",
					r.Team, r.Opponent, r.TeamScore, r.OpponentScore)
			}
			return fmt.Sprintf("The %s lost to the %s %d to %d.",
				r.Team, r.Opponent, r.OpponentScore, r.TeamScore)
		}
	}
}

func ordinal(n int) string {
	switch n {
	case 1:
		return "first"
	case 2:
		return "second"
	case 3:
		return "third"
	default:
		return fmt.Sprintf("%dth", n)
	}
}
