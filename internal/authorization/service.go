package authorization

import (
	"context"
	"errors"
)

var (
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidActor        = errors.New("invalid_actor")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidObject       = errors.New("invalid_object")
	ErrInvalidAction       = errors.New("invalid_action")
)

// SystemOrg is the pseudo organization for platform-wide actions such as
// triggering the enforcer.
const SystemOrg = "system"

type Service interface {
	Authorize(ctx context.Context, actor string, orgID string, object string, action string) error
}
