package rbac

import (
	"context"
	"fmt"

	"github.com/platinummonkey/rentshelf/pkg/apperrors"
	"github.com/platinummonkey/rentshelf/pkg/audit"
	"github.com/platinummonkey/rentshelf/pkg/auth"
	"github.com/platinummonkey/rentshelf/pkg/observability"
)

// ActionResolver returns the permission actions granted to a user
type ActionResolver interface {
	ActionsFor(ctx context.Context, userID int64) (ActionSet, error)
}

// PrincipalKind selects which principals a statement applies to
type PrincipalKind int

const (
	// AnyPrincipal includes anonymous callers
	AnyPrincipal PrincipalKind = iota
	AuthenticatedPrincipal
)

// Effect is the outcome of a matching statement
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request is one access question put to the engine
type Request struct {
	Principal *auth.AuthContext
	Operation Operation
	// OwnerID is the user that owns the target object, when the check is
	// object-level (own account, own review).
	OwnerID *int64
}

// IsOwner reports whether the principal owns the target object
func (r *Request) IsOwner() bool {
	id, ok := r.Principal.UserID()
	return ok && r.OwnerID != nil && *r.OwnerID == id
}

// Condition is a predicate a statement requires before it applies
type Condition func(ctx context.Context, req *Request) (bool, error)

// Statement is one ordered rule of a policy. Empty Operations match any operation.
type Statement struct {
	Name       string
	Operations []Operation
	Principal  PrincipalKind
	Effect     Effect
	Condition  Condition
}

func (s Statement) matches(req *Request) bool {
	if s.Principal == AuthenticatedPrincipal && !req.Principal.IsAuthenticated() {
		return false
	}
	if len(s.Operations) == 0 {
		return true
	}
	for _, op := range s.Operations {
		if op == req.Operation {
			return true
		}
	}
	return false
}

// Policy is the ordered statement table for one resource type
type Policy struct {
	Resource   Resource
	Statements []Statement
}

// Decision is the engine's answer
type Decision struct {
	Allowed   bool
	Statement string
	Reason    string
}

// Evaluate walks the statements in order. The first statement that matches
// and whose condition holds decides; no match denies.
func (p *Policy) Evaluate(ctx context.Context, req *Request) (Decision, error) {
	for _, st := range p.Statements {
		if !st.matches(req) {
			continue
		}
		if st.Condition != nil {
			ok, err := st.Condition(ctx, req)
			if err != nil {
				return Decision{}, fmt.Errorf("statement %s: %w", st.Name, err)
			}
			if !ok {
				continue
			}
		}
		return Decision{
			Allowed:   st.Effect == EffectAllow,
			Statement: st.Name,
			Reason:    fmt.Sprintf("%s by %s", st.Effect, st.Name),
		}, nil
	}

	return Decision{Reason: "no statement allows " + string(req.Operation)}, nil
}

// Engine answers access questions against the per-resource policies
type Engine struct {
	resolver ActionResolver
	policies map[Resource]*Policy
	metrics  *observability.Metrics
	audit    *audit.Recorder
}

// NewEngine builds an engine over the default policy tables
func NewEngine(resolver ActionResolver, metrics *observability.Metrics, recorder *audit.Recorder) *Engine {
	e := &Engine{
		resolver: resolver,
		policies: make(map[Resource]*Policy),
		metrics:  metrics,
		audit:    recorder,
	}
	for _, p := range DefaultPolicies(resolver) {
		e.policies[p.Resource] = p
	}
	return e
}

// SetPolicy replaces the policy of one resource type
func (e *Engine) SetPolicy(p *Policy) {
	e.policies[p.Resource] = p
}

// Decide evaluates the request against the resource's policy.
// Resources without a policy fall back to the global policy.
func (e *Engine) Decide(ctx context.Context, resource Resource, req Request) (Decision, error) {
	policy, ok := e.policies[resource]
	if !ok {
		policy = e.policies[ResourceGlobal]
	}

	decision, err := policy.Evaluate(ctx, &req)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to evaluate %s policy: %w", resource, err)
	}

	e.metrics.ObserveAccessDecision(string(resource), string(req.Operation), decision.Allowed)
	if !decision.Allowed {
		observability.FromContext(ctx).WithFields(map[string]interface{}{
			"resource":  resource,
			"operation": req.Operation,
		}).Info("Access denied")
		e.audit.AccessDenied(ctx, req.Principal.UserIDPtr(), string(resource), string(req.Operation), decision.Reason)
	}

	return decision, nil
}

// Authorize is Decide reduced to an error: nil on allow, AccessDenied on deny
func (e *Engine) Authorize(ctx context.Context, resource Resource, req Request) error {
	decision, err := e.Decide(ctx, resource, req)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		return apperrors.AccessDenied("You do not have permission to perform this action.")
	}
	return nil
}
