package game

import "fmt"

// HouseRules defines the per-session configuration for an Omerta round.
// Zero values are replaced by defaults at session creation.
type HouseRules struct {
	JoinWindowSec      int `json:"joinWindowSec"`      // seconds the joining phase stays open
	JoinReminderSec    int `json:"joinReminderSec"`    // interval between join reminders
	ViewingWindowSec   int `json:"viewingWindowSec"`   // seconds for the initial card peek
	BottleWindowSec    int `json:"bottleWindowSec"`    // seconds a bottle match window stays open
	CapoContinueSec    int `json:"capoContinueSec"`    // seconds before the Al Capone confirmation auto-continues
	TurnTimerSec       int `json:"turnTimerSec"`       // seconds per turn before auto-skip; 0 => no limit
	MinPlayers         int `json:"minPlayers"`         // minimum participants to start
	MaxPlayers         int `json:"maxPlayers"`         // maximum participants
	HandSize           int `json:"handSize"`           // cards dealt to each hand
	SafeSize           int `json:"safeSize"`           // cards dealt to the shared safe
	InitialViewedCards int `json:"initialViewedCards"` // hand positions revealed during viewing
	OmertaThreshold    int `json:"omertaThreshold"`    // max score for a voluntary call to succeed
	OmertaPenalty      int `json:"omertaPenalty"`      // points added on a failed call
}

// DefaultHouseRules returns the standard Omerta configuration.
func DefaultHouseRules() HouseRules {
	return HouseRules{
		JoinWindowSec:      120,
		JoinReminderSec:    30,
		ViewingWindowSec:   30,
		BottleWindowSec:    5,
		CapoContinueSec:    60,
		TurnTimerSec:       0,
		MinPlayers:         3,
		MaxPlayers:         9,
		HandSize:           4,
		SafeSize:           4,
		InitialViewedCards: 2,
		OmertaThreshold:    7,
		OmertaPenalty:      20,
	}
}

// Update applies the provided rule overrides. Keys that are absent or nil
// keep their current value.
func (rules *HouseRules) Update(newRules map[string]interface{}) error {
	var ok bool

	assignInt := func(field *int, key string, minVal int) error {
		if val, exists := newRules[key]; exists && val != nil {
			// JSON numbers arrive as float64
			var floatVal float64
			floatVal, ok = val.(float64)
			if !ok {
				var intVal int
				intVal, ok = val.(int)
				if !ok {
					return fmt.Errorf("invalid type for %s", key)
				}
				*field = intVal
			} else {
				*field = int(floatVal)
			}
			if *field < minVal {
				return fmt.Errorf("%s must be at least %d", key, minVal)
			}
		}
		return nil
	}

	if err := assignInt(&rules.JoinWindowSec, "joinWindowSec", 10); err != nil {
		return err
	}
	if err := assignInt(&rules.JoinReminderSec, "joinReminderSec", 5); err != nil {
		return err
	}
	if err := assignInt(&rules.ViewingWindowSec, "viewingWindowSec", 5); err != nil {
		return err
	}
	if err := assignInt(&rules.BottleWindowSec, "bottleWindowSec", 1); err != nil {
		return err
	}
	if err := assignInt(&rules.CapoContinueSec, "capoContinueSec", 5); err != nil {
		return err
	}
	if err := assignInt(&rules.TurnTimerSec, "turnTimerSec", 0); err != nil {
		return err
	}
	if err := assignInt(&rules.MinPlayers, "minPlayers", 2); err != nil {
		return err
	}
	if err := assignInt(&rules.MaxPlayers, "maxPlayers", 2); err != nil {
		return err
	}
	if err := assignInt(&rules.OmertaThreshold, "omertaThreshold", 0); err != nil {
		return err
	}
	if err := assignInt(&rules.OmertaPenalty, "omertaPenalty", 0); err != nil {
		return err
	}
	if rules.MaxPlayers < rules.MinPlayers {
		return fmt.Errorf("maxPlayers must be >= minPlayers")
	}
	return nil
}

// ParseRules merges a map of overrides into the current rules, validating types.
func ParseRules(rules map[string]interface{}, current HouseRules) (HouseRules, error) {
	houseRules := current
	err := houseRules.Update(rules)
	return houseRules, err
}
