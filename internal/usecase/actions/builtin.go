package actions

import (
	"context"
	"encoding/json"
)

// Built-in action names.
const (
	ActionTestReachability    = "testReachability"
	ActionGetAvailableActions = "getAvailableActions"
	ActionHelp                = "help"
	ActionListBans            = "listBans"
	ActionListEntities        = "listEntities"
	ActionListLocations       = "listLocations"
)

// Reachability is the testReachability result.
type Reachability struct {
	Connectable bool    `json:"connectable"`
	Reason      *string `json:"reason"`
}

func (r *Registry) registerBuiltins() {
	r.mustRegister(ActionTestReachability, "Test if the server is reachable",
		func(context.Context, json.RawMessage) (any, error) {
			return Reachability{Connectable: true}, nil
		})

	available := func(context.Context, json.RawMessage) (any, error) {
		return r.Actions(), nil
	}
	r.mustRegister(ActionGetAvailableActions, "List the actions this server answers", available)
	r.mustRegister(ActionHelp, "Alias of getAvailableActions", available)

	// Hosts without these lists still answer with an empty one.
	empty := func(context.Context, json.RawMessage) (any, error) {
		return []any{}, nil
	}
	r.mustRegister(ActionListBans, "List active bans", empty)
	r.mustRegister(ActionListEntities, "List spawnable entities", empty)
	r.mustRegister(ActionListLocations, "List named locations", empty)
}

func (r *Registry) mustRegister(name, description string, fn Func) {
	if err := r.Register(name, description, fn); err != nil {
		panic(err)
	}
}
