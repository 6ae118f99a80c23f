package engine

import (
	"strings"
)

// PermissionAction is the verb part of a permission string such as
// `read("any")`.
type PermissionAction string

const (
	ActionRead   PermissionAction = "read"
	ActionCreate PermissionAction = "create"
	ActionUpdate PermissionAction = "update"
	ActionDelete PermissionAction = "delete"
)

// CollectionActions is the set of actions allowed on collection-level
// permissions.
func CollectionActions() []PermissionAction {
	return []PermissionAction{ActionRead, ActionCreate, ActionUpdate, ActionDelete}
}

// RowActions is the set of actions allowed when updating permissions of a
// managed table's rows. Create is only meaningful when no specific row is
// targeted.
func RowActions(rowTargeted bool) []PermissionAction {
	actions := []PermissionAction{ActionRead, ActionUpdate, ActionDelete}
	if !rowTargeted {
		actions = append(actions, ActionCreate)
	}
	return actions
}

// AggregatePermissions normalizes raw permission strings into a canonical
// de-duplicated set restricted to the allowed actions. An empty input yields
// nil, which callers must treat as "no explicit permissions", not "deny all".
func AggregatePermissions(raw []string, allowed []PermissionAction) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	allowedSet := make(map[PermissionAction]bool, len(allowed))
	for _, action := range allowed {
		allowedSet[action] = true
	}

	seen := make(map[string]bool, len(raw))
	result := make([]string, 0, len(raw))
	for _, permission := range raw {
		trimmed := strings.TrimSpace(permission)
		if trimmed == "" {
			continue
		}
		action, err := parseAction(trimmed)
		if err != nil {
			return nil, err
		}
		if !allowedSet[action] {
			return nil, NewError(ErrPermissionInvalid, "permission action %q is not allowed here", action)
		}
		if seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		result = append(result, trimmed)
	}

	if len(result) == 0 {
		return nil, nil
	}
	return result, nil
}

func parseAction(permission string) (PermissionAction, error) {
	open := strings.IndexByte(permission, '(')
	if open <= 0 || !strings.HasSuffix(permission, ")") {
		return "", NewError(ErrPermissionInvalid, "malformed permission %q, expected action(\"role\")", permission)
	}
	action := PermissionAction(permission[:open])
	switch action {
	case ActionRead, ActionCreate, ActionUpdate, ActionDelete:
		return action, nil
	default:
		return "", NewError(ErrPermissionInvalid, "unknown permission action %q", string(action))
	}
}
