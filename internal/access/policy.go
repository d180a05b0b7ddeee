// Package access decides whether an actor holds the capability an operation
// requires.
//
// Roles are nested: a superadmin holds every capability, an admin (uploader)
// holds admin and customer, a customer holds customer only.
package access

import (
	"fmt"

	"github.com/mrlokans/bookshop/internal/apperrors"
	"github.com/mrlokans/bookshop/internal/entities"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID uint
	Role   entities.UserRole
}

// Anonymous reports whether no user was resolved.
func (a Actor) Anonymous() bool {
	return a.UserID == 0
}

// Decision is the tagged outcome of a policy check.
type Decision struct {
	Authorized bool
	Required   entities.UserRole
	Actor      Actor
}

// Err returns nil when authorized, otherwise an error wrapping
// apperrors.ErrUnauthenticated or apperrors.ErrForbidden.
func (d Decision) Err() error {
	if d.Authorized {
		return nil
	}
	if d.Actor.Anonymous() {
		return fmt.Errorf("%s capability required: %w", d.Required, apperrors.ErrUnauthenticated)
	}
	return fmt.Errorf("role %q lacks %s capability: %w", d.Actor.Role, d.Required, apperrors.ErrForbidden)
}

var rank = map[entities.UserRole]int{
	entities.UserRoleCustomer:   1,
	entities.UserRoleAdmin:      2,
	entities.UserRoleSuperAdmin: 3,
}

// Policy evaluates capability checks.
type Policy struct{}

func NewPolicy() *Policy {
	return &Policy{}
}

// Require checks that actor holds the capability of role.
func (p *Policy) Require(actor Actor, role entities.UserRole) Decision {
	d := Decision{Required: role, Actor: actor}
	if actor.Anonymous() {
		return d
	}
	have, ok := rank[actor.Role]
	need, known := rank[role]
	d.Authorized = ok && known && have >= need
	return d
}

// Holds is shorthand for Require(actor, role).Authorized.
func (p *Policy) Holds(actor Actor, role entities.UserRole) bool {
	return p.Require(actor, role).Authorized
}

// CanSeeBook reports whether actor may read a book that is not yet public.
// Approved books are public to everyone.
func (p *Policy) CanSeeBook(actor Actor, book *entities.Book) bool {
	if book.Status == entities.BookStatusApproved {
		return true
	}
	if actor.Anonymous() {
		return false
	}
	return book.UploaderID == actor.UserID || p.Holds(actor, entities.UserRoleSuperAdmin)
}
