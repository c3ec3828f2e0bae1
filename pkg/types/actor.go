package types

import "github.com/digimarket/marketcore/pkg/enums"

// Actor identifies who triggered an operation. UserID is zero for system actors.
type Actor struct {
	UserID uint64
	Role   enums.ActorRole
}

// SystemActor is used by cron jobs and provider callbacks.
func SystemActor() Actor {
	return Actor{Role: enums.ActorRoleSystem}
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.ActorRoleAdmin
}

func (a Actor) IsSystem() bool {
	return a.Role == enums.ActorRoleSystem
}

// Privileged reports whether the actor may act on resources it does not own.
func (a Actor) Privileged() bool {
	return a.IsAdmin() || a.IsSystem()
}

// LogFields renders the actor for structured log and audit payloads.
func (a Actor) LogFields() map[string]any {
	return map[string]any{"actor_id": a.UserID, "actor_role": string(a.Role)}
}
