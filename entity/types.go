package entity

import (
	"encoding/json"
	"fmt"
	"time"

	syncErrors "github.com/sidelinehq/coachsync/errors"
)

// Player is one roster entry.
type Player struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	JerseyNumber string `json:"jersey_number,omitempty"`
	Position     string `json:"position,omitempty"`
	Goalkeeper   bool   `json:"goalkeeper,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

func (p *Player) Validate() error {
	if p.ID == "" {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("player id is required"))
	}
	if p.Name == "" {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("player name is required"))
	}
	return nil
}

// SavedGame is one recorded or in-progress game.
type SavedGame struct {
	ID           string    `json:"id"`
	Opponent     string    `json:"opponent"`
	KickoffAt    time.Time `json:"kickoff_at"`
	HomeScore    int       `json:"home_score"`
	AwayScore    int       `json:"away_score"`
	SeasonID     string    `json:"season_id,omitempty"`
	TournamentID string    `json:"tournament_id,omitempty"`
	Completed    bool      `json:"completed,omitempty"`
}

func (g *SavedGame) Validate() error {
	if g.ID == "" {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("game id is required"))
	}
	if g.Opponent == "" {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("game opponent is required"))
	}
	if g.HomeScore < 0 || g.AwayScore < 0 {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("game scores cannot be negative"))
	}
	return nil
}

// Season groups games played over one period of regular play.
type Season struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	StartsOn time.Time `json:"starts_on,omitzero"`
	EndsOn   time.Time `json:"ends_on,omitzero"`
}

func (s *Season) Validate() error {
	if s.ID == "" {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("season id is required"))
	}
	if s.Name == "" {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("season name is required"))
	}
	if !s.StartsOn.IsZero() && !s.EndsOn.IsZero() && s.EndsOn.Before(s.StartsOn) {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("season ends before it starts"))
	}
	return nil
}

// Tournament groups games played at one event.
type Tournament struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Location string    `json:"location,omitempty"`
	StartsOn time.Time `json:"starts_on,omitzero"`
}

func (t *Tournament) Validate() error {
	if t.ID == "" {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("tournament id is required"))
	}
	if t.Name == "" {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("tournament name is required"))
	}
	return nil
}

// Setting is one app-level key/value pair. The key doubles as the entity id
// within the settings collection.
type Setting struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Well-known setting keys.
const (
	SettingCurrentGameID = "currentGameId"
	SettingLastGameID    = "lastGameId"
)

func (s *Setting) Validate() error {
	if s.Key == "" {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("setting key is required"))
	}
	if len(s.Value) == 0 {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("setting value is required"))
	}
	if !json.Valid(s.Value) {
		return syncErrors.NewValidationError(syncErrors.OpValidate, fmt.Errorf("setting value is not valid JSON"))
	}
	return nil
}
