package relay

import (
	"github.com/ibeckermayer/modsync/internal/apiclient"
	"github.com/ibeckermayer/modsync/internal/types"
)

// transitions is the moderation state machine: from status, action, resulting status.
var transitions = map[types.Status]map[types.Action]types.Status{
	types.StatusPending: {
		types.ActionPostTwitter: types.StatusPosted,
		types.ActionReject:      types.StatusRejected,
		types.ActionDelete:      types.StatusDeleted,
		types.ActionArchive:     types.StatusArchived,
	},
	types.StatusPosted: {
		types.ActionReject:  types.StatusRejected,
		types.ActionArchive: types.StatusArchived,
	},
	types.StatusRejected: {types.ActionApprove: types.StatusPending},
	types.StatusDeleted:  {types.ActionApprove: types.StatusPending},
	types.StatusArchived: {types.ActionApprove: types.StatusPending},
}

// Target returns the status a post in from ends up in after action
func Target(from types.Status, action types.Action) (types.Status, error) {
	to, ok := transitions[from][action]
	if !ok {
		return "", apiclient.Validation("Cannot %s a %s post", action, from)
	}
	return to, nil
}

// CheckTransition validates a raw status change against the same table
func CheckTransition(from, to types.Status) error {
	for _, target := range transitions[from] {
		if target == to {
			return nil
		}
	}
	return apiclient.Validation("Cannot move a post from %s to %s", from, to)
}

// Allowed lists the actions available from a status, in canonical order
func Allowed(from types.Status) []types.Action {
	var out []types.Action
	for _, a := range types.Actions {
		if _, ok := transitions[from][a]; ok {
			out = append(out, a)
		}
	}
	return out
}
