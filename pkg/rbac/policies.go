package rbac

import (
	"context"
)

// IsAdmin holds for principals carrying the admin flag. Anonymous principals fail it.
func IsAdmin(_ context.Context, req *Request) (bool, error) {
	return req.Principal.IsAdmin(), nil
}

// IsOwner holds when the principal owns the target object
func IsOwner(_ context.Context, req *Request) (bool, error) {
	return req.IsOwner(), nil
}

// HasRolePermission holds when one of the principal's roles grants the
// action the operation maps to, or ALL.
func HasRolePermission(resolver ActionResolver) Condition {
	return func(ctx context.Context, req *Request) (bool, error) {
		userID, ok := req.Principal.UserID()
		if !ok {
			return false, nil
		}
		actions, err := resolver.ActionsFor(ctx, userID)
		if err != nil {
			return false, err
		}
		return actions.Allows(req.Operation), nil
	}
}

// RoleActionChecker answers whether any of a user's roles grants an action,
// directly or through ALL. Store and CachedResolver both implement it.
type RoleActionChecker interface {
	HasAnyRoleWithAction(ctx context.Context, userID int64, action Action) (bool, error)
}

// HasRoleWithAction holds when one of the principal's roles grants action, or
// ALL, regardless of the operation.
func HasRoleWithAction(checker RoleActionChecker, action Action) Condition {
	return func(ctx context.Context, req *Request) (bool, error) {
		userID, ok := req.Principal.UserID()
		if !ok {
			return false, nil
		}
		return checker.HasAnyRoleWithAction(ctx, userID, action)
	}
}

// roleActions adapts a plain resolver to RoleActionChecker
func roleActions(resolver ActionResolver) RoleActionChecker {
	if checker, ok := resolver.(RoleActionChecker); ok {
		return checker
	}
	return resolvedRoleActions{resolver}
}

type resolvedRoleActions struct {
	resolver ActionResolver
}

func (r resolvedRoleActions) HasAnyRoleWithAction(ctx context.Context, userID int64, action Action) (bool, error) {
	actions, err := r.resolver.ActionsFor(ctx, userID)
	if err != nil {
		return false, err
	}
	return actions.Has(action), nil
}

// AnyOf holds when one of the conditions holds
func AnyOf(conds ...Condition) Condition {
	return func(ctx context.Context, req *Request) (bool, error) {
		for _, c := range conds {
			ok, err := c(ctx, req)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

// OnOperations narrows cond to the listed operations; it fails for others
func OnOperations(cond Condition, ops ...Operation) Condition {
	return func(ctx context.Context, req *Request) (bool, error) {
		for _, op := range ops {
			if op == req.Operation {
				return cond(ctx, req)
			}
		}
		return false, nil
	}
}

func publicRead() Statement {
	return Statement{
		Name:       "public_read",
		Operations: []Operation{OpRetrieve, OpList},
		Principal:  AuthenticatedPrincipal,
		Effect:     EffectAllow,
	}
}

func rolePermission(cond Condition) Statement {
	return Statement{
		Name:      "has_role_permission",
		Principal: AuthenticatedPrincipal,
		Effect:    EffectAllow,
		Condition: cond,
	}
}

func adminOverride() Statement {
	return Statement{
		Name:      "is_admin",
		Principal: AnyPrincipal,
		Effect:    EffectAllow,
		Condition: IsAdmin,
	}
}

// GlobalPolicy is shared by resources without special rules: authenticated
// principals read, role permissions grant their mapped operations, admins do anything.
func GlobalPolicy(resource Resource, resolver ActionResolver) *Policy {
	return &Policy{
		Resource: resource,
		Statements: []Statement{
			publicRead(),
			rolePermission(HasRolePermission(resolver)),
			adminOverride(),
		},
	}
}

// ReviewPolicy lets authenticated principals read, create and edit reviews.
// The reviewer may always edit their own review.
func ReviewPolicy(resolver ActionResolver) *Policy {
	return &Policy{
		Resource: ResourceReview,
		Statements: []Statement{
			{
				Name:       "authenticated_review",
				Operations: []Operation{OpRetrieve, OpList, OpUpdate, OpPartialUpdate, OpCreate},
				Principal:  AuthenticatedPrincipal,
				Effect:     EffectAllow,
			},
			rolePermission(AnyOf(
				OnOperations(IsOwner, OpUpdate, OpPartialUpdate),
				HasRolePermission(resolver),
			)),
			adminOverride(),
		},
	}
}

// BookReturnPolicy admits UPDATE or ALL holders and admins
func BookReturnPolicy(resolver ActionResolver) *Policy {
	return &Policy{
		Resource: ResourceBookReturn,
		Statements: []Statement{
			rolePermission(HasRoleWithAction(roleActions(resolver), ActionUpdate)),
			adminOverride(),
		},
	}
}

// UserPolicy lets principals read and edit their own account; everything else is admin only
func UserPolicy() *Policy {
	return &Policy{
		Resource: ResourceUser,
		Statements: []Statement{
			{
				Name:       "is_request_own_account",
				Operations: []Operation{OpUpdate, OpPartialUpdate, OpRetrieve},
				Principal:  AnyPrincipal,
				Effect:     EffectAllow,
				Condition:  IsOwner,
			},
			adminOverride(),
		},
	}
}

// ReadOnlyPolicy opens list and retrieve to authenticated principals and
// reserves mutation for admins.
func ReadOnlyPolicy(resource Resource) *Policy {
	return &Policy{
		Resource: resource,
		Statements: []Statement{
			publicRead(),
			adminOverride(),
		},
	}
}

// DefaultPolicies returns the policy table of every guarded resource
func DefaultPolicies(resolver ActionResolver) []*Policy {
	return []*Policy{
		GlobalPolicy(ResourceGlobal, resolver),
		GlobalPolicy(ResourceBook, resolver),
		GlobalPolicy(ResourceTag, resolver),
		GlobalPolicy(ResourceTagBinding, resolver),
		// Rent reads are open; scoping decides which records come back.
		GlobalPolicy(ResourceRent, resolver),
		ReviewPolicy(resolver),
		BookReturnPolicy(resolver),
		UserPolicy(),
		ReadOnlyPolicy(ResourceRole),
		ReadOnlyPolicy(ResourceRoleBinding),
		ReadOnlyPolicy(ResourcePermissionBinding),
	}
}
