package auth

import (
	"fmt"

	"reelmark/internal/domain"
)

// Actions checked by Policy.
const (
	ActionEdit    = "edit"
	ActionDelete  = "delete"
	ActionRestore = "restore"
)

// PermissionError indicates the actor may not act on the annotation.
type PermissionError struct {
	Action       string
	ActorID      string
	AnnotationID string
}

func (e PermissionError) Error() string {
	return fmt.Sprintf("%s annotation %s: actor %q is neither its creator nor an elevated role", e.Action, e.AnnotationID, e.ActorID)
}

// Policy holds the roles allowed to modify any annotation.
type Policy struct {
	ElevatedRoles []string
}

// CanModify reports whether actor created the annotation or holds an elevated role.
func (p Policy) CanModify(actor domain.Actor, a domain.Annotation) bool {
	if actor.ID != "" && actor.ID == a.CreatedBy {
		return true
	}
	return p.Elevated(actor)
}

func (p Policy) Elevated(actor domain.Actor) bool {
	return actor.HasRole(p.ElevatedRoles...)
}

// Check returns a PermissionError when actor may not perform action on a.
func (p Policy) Check(action string, actor domain.Actor, a domain.Annotation) error {
	if action == ActionRestore {
		if p.Elevated(actor) {
			return nil
		}
	} else if p.CanModify(actor, a) {
		return nil
	}
	return PermissionError{Action: action, ActorID: actor.ID, AnnotationID: a.ID}
}
