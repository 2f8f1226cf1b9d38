// Package guard decides whether a navigation target may be entered by
// the current identity. The decision is pure and must be recomputed on
// every navigation, since the identity can change between attempts.
package guard

import (
	"github.com/epibuilder/portal/internal/model"
	"github.com/epibuilder/portal/internal/portal/session"
)

// Well-known navigation targets.
const (
	LoginPage   = "/login"
	LandingPage = "/new"
	HomePage    = "/"
)

// Decision is the outcome of an access check. RedirectTo is empty when
// Allow is true.
type Decision struct {
	Allow      bool
	RedirectTo string
}

// CanEnter evaluates the access rules in order:
//  1. An authenticated user asking for the login page is sent to the
//     default landing page instead.
//  2. No identity means login first.
//  3. A role-restricted target with a mismatched role falls back home.
//  4. Anything else is allowed.
//
// requiredRole is empty for targets open to any authenticated user.
func CanEnter(id *session.Identity, requiredRole model.Role, targetURL string) Decision {
	if id != nil && targetURL == LoginPage {
		return Decision{RedirectTo: LandingPage}
	}
	if id == nil {
		return Decision{RedirectTo: LoginPage}
	}
	if requiredRole != "" && requiredRole != id.Role {
		return Decision{RedirectTo: HomePage}
	}
	return Decision{Allow: true}
}
