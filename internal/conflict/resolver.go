// Package conflict decides what to do when the remote copy of an entity
// changed after a local mutation was captured. The engine never guesses:
// every detected conflict goes through a Resolver.
package conflict

import (
	"fmt"

	"github.com/prudhvinik1/offlinesync/internal/models"
)

// Resolver picks a resolution for a detected conflict.
type Resolver func(c models.SyncConflict) models.Resolution

// NewestWins keeps whichever side was written last. A tie goes to the
// server, which holds the authoritative copy.
func NewestWins(c models.SyncConflict) models.Resolution {
	if c.LocalTimestamp.After(c.RemoteTimestamp) {
		return models.ResolutionUseLocal
	}
	return models.ResolutionUseServer
}

func ServerWins(models.SyncConflict) models.Resolution {
	return models.ResolutionUseServer
}

func ClientWins(models.SyncConflict) models.Resolution {
	return models.ResolutionUseLocal
}

func AlwaysMerge(models.SyncConflict) models.Resolution {
	return models.ResolutionMerge
}

// Default is the resolver used when none is configured.
var Default Resolver = NewestWins

// ByName maps a configuration value to a resolver.
func ByName(name string) (Resolver, error) {
	switch name {
	case "", "newest", "newest-wins":
		return NewestWins, nil
	case "server", "server-wins":
		return ServerWins, nil
	case "client", "client-wins":
		return ClientWins, nil
	case "merge":
		return AlwaysMerge, nil
	}
	return nil, fmt.Errorf("unknown conflict strategy %q", name)
}

// Merge shallow-combines both payloads. Top-level keys present on both
// sides take the local value.
func Merge(local, remote models.Payload) models.Payload {
	merged := make(models.Payload, len(local)+len(remote))
	for k, v := range remote {
		merged[k] = v
	}
	for k, v := range local {
		merged[k] = v
	}
	return merged
}
