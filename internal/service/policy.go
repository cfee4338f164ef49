package service

import (
	"fmt"

	"github.com/faucetdb/keygate/internal/errs"
	"github.com/faucetdb/keygate/internal/model"
)

// Capability names an action on a credential.
type Capability int

const (
	CapRead Capability = iota
	CapUpdate
	CapDelete
	CapViewUsage
	CapViewRateLimit
)

func (c Capability) String() string {
	switch c {
	case CapRead:
		return "read"
	case CapUpdate:
		return "update"
	case CapDelete:
		return "delete"
	case CapViewUsage:
		return "view_usage"
	case CapViewRateLimit:
		return "view_rate_limit"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Authorize decides whether actor may exercise c on cred. Owners hold every
// capability; superusers may additionally view rate-limit status. Every
// other case reports errs.ErrNotFound so existence is never revealed.
func Authorize(actor *model.Account, cred *model.Credential, c Capability) error {
	if actor == nil || cred == nil {
		return errs.ErrNotFound
	}
	if cred.OwnerID == actor.ID {
		return nil
	}
	if actor.IsSuperuser && c == CapViewRateLimit {
		return nil
	}
	return fmt.Errorf("credential %d: %w", cred.ID, errs.ErrNotFound)
}

// RequireSuperuser returns errs.ErrAuthorization unless actor holds
// elevated privilege.
func RequireSuperuser(actor *model.Account) error {
	if actor == nil || !actor.IsSuperuser {
		return fmt.Errorf("%w: superuser required", errs.ErrAuthorization)
	}
	return nil
}
