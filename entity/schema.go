package entity

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	syncErrors "github.com/sidelinehq/coachsync/errors"
)

// Payload schemas enforced at the repository boundary and on pulled remote
// deltas. Unknown fields are tolerated (forward compatibility with newer
// clients); shape and required fields are not.
const (
	playerSchema = `{
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1},
			"jersey_number": {"type": "string"},
			"position": {"type": "string"},
			"goalkeeper": {"type": "boolean"},
			"notes": {"type": "string"}
		}
	}`

	savedGameSchema = `{
		"type": "object",
		"required": ["id", "opponent"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"opponent": {"type": "string", "minLength": 1},
			"kickoff_at": {"type": "string"},
			"home_score": {"type": "integer", "minimum": 0},
			"away_score": {"type": "integer", "minimum": 0},
			"season_id": {"type": "string"},
			"tournament_id": {"type": "string"},
			"completed": {"type": "boolean"}
		}
	}`

	seasonSchema = `{
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1},
			"starts_on": {"type": "string"},
			"ends_on": {"type": "string"}
		}
	}`

	tournamentSchema = `{
		"type": "object",
		"required": ["id", "name"],
		"properties": {
			"id": {"type": "string", "minLength": 1},
			"name": {"type": "string", "minLength": 1},
			"location": {"type": "string"},
			"starts_on": {"type": "string"}
		}
	}`

	settingSchema = `{
		"type": "object",
		"required": ["key", "value"],
		"properties": {
			"key": {"type": "string", "minLength": 1}
		}
	}`
)

var payloadSchemas map[Collection]*jsonschema.Schema

func init() {
	payloadSchemas = map[Collection]*jsonschema.Schema{
		CollectionRoster:      mustCompileSchema("player.json", playerSchema),
		CollectionGames:       mustCompileSchema("saved_game.json", savedGameSchema),
		CollectionSeasons:     mustCompileSchema("season.json", seasonSchema),
		CollectionTournaments: mustCompileSchema("tournament.json", tournamentSchema),
		CollectionSettings:    mustCompileSchema("setting.json", settingSchema),
	}
}

func mustCompileSchema(name, schema string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schema))
	if err != nil {
		panic(fmt.Sprintf("entity: invalid schema document %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("entity: cannot register schema %s: %v", name, err))
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("entity: cannot compile schema %s: %v", name, err))
	}
	return compiled
}

// ValidatePayload checks an encoded payload against the collection's schema.
// It is the last gate before a payload is persisted or applied from a pull;
// shapes that fail here are rejected, never stored.
func ValidatePayload(collection Collection, payload []byte) error {
	schema, ok := payloadSchemas[collection]
	if !ok {
		return syncErrors.NewValidationError(syncErrors.OpValidate,
			fmt.Errorf("unknown collection %q", collection))
	}

	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return syncErrors.NewValidationError(syncErrors.OpValidate,
			fmt.Errorf("payload is not valid JSON: %w", err))
	}

	if err := schema.Validate(instance); err != nil {
		return syncErrors.E(syncErrors.OpValidate, syncErrors.KindValidation, err,
			syncErrors.Metadata{"collection": string(collection)})
	}
	return nil
}
