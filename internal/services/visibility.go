package services

import (
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/repository"
)

type AdminScope string

const (
	ScopeGlobal AdminScope = "global"
	ScopeMine   AdminScope = "my"
)

func ParseAdminScope(value string) AdminScope {
	if AdminScope(value) == ScopeMine {
		return ScopeMine
	}
	return ScopeGlobal
}

// RowScopeFor is the single row-level visibility rule. Every read path, the
// command guards and the push fan-out go through it.
func RowScopeFor(actor models.Actor, scope AdminScope) repository.RowScope {
	switch actor.Role {
	case models.RoleAdmin:
		if scope == ScopeMine {
			id := actor.ID
			return repository.RowScope{TrainerID: &id}
		}
		return repository.RowScope{AllRows: true}
	case models.RoleTrainer:
		id := actor.ID
		return repository.RowScope{TrainerID: &id}
	case models.RoleClient:
		id := actor.ID
		return repository.RowScope{ClientID: &id, IncludeAvailable: true}
	case models.RoleAnonymous:
		return repository.RowScope{IncludeAvailable: true}
	default:
		return repository.RowScope{}
	}
}

func Visible(actor models.Actor, session *models.Session) bool {
	return RowScopeFor(actor, ScopeGlobal).Allows(session)
}

// Redact returns the snapshot as actor may see it.
func Redact(actor models.Actor, session models.Session) models.Session {
	out := session.Clone()
	switch actor.Role {
	case models.RoleAdmin, models.RoleTrainer:
	case models.RoleClient, models.RoleAnonymous:
		out.PrivateNotes = ""
	default:
		out.PrivateNotes = ""
	}
	return out
}

func redactAll(actor models.Actor, sessions []models.Session) []models.Session {
	out := make([]models.Session, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, Redact(actor, session))
	}
	return out
}
