package rbac

import (
	"sort"
	"strings"
	"time"
)

// Action is a permission action stored on a Permission row
type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionReadAll Action = "READ_ALL"
	ActionUpdate  Action = "UPDATE"
	ActionDelete  Action = "DELETE"
	// ActionAll matches any operation
	ActionAll Action = "ALL"
)

// Actions lists every valid permission action
func Actions() []Action {
	return []Action{ActionCreate, ActionReadAll, ActionUpdate, ActionDelete, ActionAll}
}

// IsValid reports whether a is a known action
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionReadAll, ActionUpdate, ActionDelete, ActionAll:
		return true
	}
	return false
}

// Operation is what a request does to a resource
type Operation string

const (
	OpList          Operation = "list"
	OpRetrieve      Operation = "retrieve"
	OpCreate        Operation = "create"
	OpUpdate        Operation = "update"
	OpPartialUpdate Operation = "partial_update"
	OpDestroy       Operation = "destroy"
	OpReturn        Operation = "return"
)

var operationActions = map[Operation]Action{
	OpList:          ActionReadAll,
	OpCreate:        ActionCreate,
	OpUpdate:        ActionUpdate,
	OpPartialUpdate: ActionUpdate,
	OpDestroy:       ActionDelete,
}

// RequiredAction returns the permission action an operation maps to.
// Unmapped operations (retrieve, custom actions) are only granted through ActionAll.
func RequiredAction(op Operation) (Action, bool) {
	a, ok := operationActions[op]
	return a, ok
}

// Resource names a guarded resource type
type Resource string

const (
	ResourceGlobal            Resource = "global"
	ResourceBook              Resource = "book"
	ResourceTag               Resource = "tag"
	ResourceTagBinding        Resource = "tag_binding"
	ResourceUser              Resource = "user"
	ResourceRole              Resource = "role"
	ResourceRoleBinding       Resource = "role_binding"
	ResourcePermissionBinding Resource = "permission_binding"
	ResourceReview            Resource = "review"
	ResourceRent              Resource = "rent"
	ResourceBookReturn        Resource = "book_return"
)

// ActionSet is the union of permission actions granted to a user
type ActionSet map[Action]bool

// NewActionSet builds a set from a list of actions
func NewActionSet(actions ...Action) ActionSet {
	set := make(ActionSet, len(actions))
	for _, a := range actions {
		set[a] = true
	}
	return set
}

// Has reports whether a is granted directly or through ActionAll
func (s ActionSet) Has(a Action) bool {
	return s[a] || s[ActionAll]
}

// Allows reports whether the set grants op
func (s ActionSet) Allows(op Operation) bool {
	if a, ok := RequiredAction(op); ok {
		return s.Has(a)
	}
	return s[ActionAll]
}

// Sorted returns the actions in lexical order
func (s ActionSet) Sorted() []Action {
	out := make([]Action, 0, len(s))
	for a, ok := range s {
		if ok {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// String renders the set as a comma separated list
func (s ActionSet) String() string {
	sorted := s.Sorted()
	parts := make([]string, len(sorted))
	for i, a := range sorted {
		parts[i] = string(a)
	}
	return strings.Join(parts, ",")
}

// ParseActionSet parses the output of ActionSet.String, ignoring unknown actions
func ParseActionSet(s string) ActionSet {
	set := ActionSet{}
	for _, part := range strings.Split(s, ",") {
		a := Action(strings.TrimSpace(part))
		if a.IsValid() {
			set[a] = true
		}
	}
	return set
}

// Role is a named bundle of permissions
type Role struct {
	ID          int64     `json:"role_id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"created_date"`
}

// Permission is a seeded permission action
type Permission struct {
	ID          int64   `json:"permission_id"`
	Action      Action  `json:"action"`
	Description *string `json:"description"`
}

// RolePermissionBinding grants a permission to a role
type RolePermissionBinding struct {
	ID           int64     `json:"id"`
	RoleID       int64     `json:"role_id"`
	PermissionID int64     `json:"permission_id"`
	CreatedAt    time.Time `json:"created_date"`
}

// UserRoleBinding assigns a role to a user
type UserRoleBinding struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	RoleID    int64     `json:"role_id"`
	CreatedAt time.Time `json:"created_date"`
}
