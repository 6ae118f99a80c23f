package schema

import (
	"errors"
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"slices"
	"time"
)

// Sentinel validation errors. Callers wrap these into their own error
// taxonomy; matching is done with errors.Is.
var (
	ErrFormatUnsupported  = errors.New("format unsupported for attribute type")
	ErrDefaultUnsupported = errors.New("default value not allowed")
	ErrValueInvalid       = errors.New("invalid attribute value")
	ErrTypeInvalid        = errors.New("invalid attribute type")
)

// ValidateAttribute checks a fully built attribute definition: format
// compatibility, the required/array vs default exclusivity rules, and the
// legality of the default value for the attribute's kind. It is pure and
// performs no I/O.
func ValidateAttribute(a *Attribute) error {
	if !FormatSupported(a.Type, a.Format) {
		return fmt.Errorf("%w: format %q on type %q", ErrFormatUnsupported, a.Format, a.Type)
	}
	if a.Required && a.Default != nil {
		return fmt.Errorf("%w: required attribute cannot have a default", ErrDefaultUnsupported)
	}
	if a.Array && a.Default != nil {
		return fmt.Errorf("%w: array attribute cannot have a default", ErrDefaultUnsupported)
	}
	if a.Type == TypeRelationship {
		return validateRelationship(a)
	}
	return ValidateDefault(a)
}

// ValidateDefault checks the default value (when set) against the attribute's
// type, format and format options.
func ValidateDefault(a *Attribute) error {
	if err := validateRange(a); err != nil {
		return err
	}
	if a.Default == nil {
		return nil
	}

	switch a.Type {
	case TypeString:
		s, ok := a.Default.(string)
		if !ok {
			return fmt.Errorf("%w: default for %q must be a string", ErrValueInvalid, a.Key)
		}
		if a.Size > 0 && int64(len(s)) > a.Size {
			return fmt.Errorf("%w: default longer than size %d", ErrValueInvalid, a.Size)
		}
		return validateStringFormat(a, s)
	case TypeInteger:
		n, ok := asInt64(a.Default)
		if !ok {
			return fmt.Errorf("%w: default for %q must be an integer", ErrValueInvalid, a.Key)
		}
		return validateNumericBounds(a, float64(n))
	case TypeFloat:
		f, ok := asFloat64(a.Default)
		if !ok {
			return fmt.Errorf("%w: default for %q must be a number", ErrValueInvalid, a.Key)
		}
		return validateNumericBounds(a, f)
	case TypeBoolean:
		if _, ok := a.Default.(bool); !ok {
			return fmt.Errorf("%w: default for %q must be a boolean", ErrValueInvalid, a.Key)
		}
	case TypeDatetime:
		s, ok := a.Default.(string)
		if !ok {
			return fmt.Errorf("%w: default for %q must be an RFC 3339 string", ErrValueInvalid, a.Key)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("%w: default %q is not a valid datetime", ErrValueInvalid, s)
		}
	}
	return nil
}

func validateStringFormat(a *Attribute, s string) error {
	switch a.Format {
	case FormatEmail:
		if _, err := mail.ParseAddress(s); err != nil {
			return fmt.Errorf("%w: %q is not a valid email address", ErrValueInvalid, s)
		}
	case FormatIP:
		if net.ParseIP(s) == nil {
			return fmt.Errorf("%w: %q is not a valid IP address", ErrValueInvalid, s)
		}
	case FormatURL:
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %q is not a valid URL", ErrValueInvalid, s)
		}
	case FormatEnum:
		if !slices.Contains(a.Elements(), s) {
			return fmt.Errorf("%w: default %q is not one of the enum elements", ErrValueInvalid, s)
		}
	}
	return nil
}

// validateRange checks format options that must hold regardless of whether a
// default is present: numeric min/max ordering and enum element rules. Bounds
// are checked whenever both are declared, with or without a range format.
func validateRange(a *Attribute) error {
	min, hasMin := a.RangeMin()
	max, hasMax := a.RangeMax()
	if hasMin && hasMax && min > max {
		return fmt.Errorf("%w: min %v exceeds max %v", ErrValueInvalid, min, max)
	}

	switch a.Format {
	case FormatEnum:
		elements := a.Elements()
		if len(elements) == 0 {
			return fmt.Errorf("%w: enum attribute %q has no elements", ErrValueInvalid, a.Key)
		}
		for _, e := range elements {
			if e == "" {
				return fmt.Errorf("%w: enum attribute %q has an empty element", ErrValueInvalid, a.Key)
			}
		}
	}
	return nil
}

func validateNumericBounds(a *Attribute, v float64) error {
	if min, ok := a.RangeMin(); ok && v < min {
		return fmt.Errorf("%w: default %v below minimum %v", ErrValueInvalid, v, min)
	}
	if max, ok := a.RangeMax(); ok && v > max {
		return fmt.Errorf("%w: default %v above maximum %v", ErrValueInvalid, v, max)
	}
	return nil
}

func validateRelationship(a *Attribute) error {
	opts, ok := a.Relationship()
	if !ok {
		return fmt.Errorf("%w: relationship attribute %q has no options", ErrValueInvalid, a.Key)
	}
	switch opts.RelationType {
	case RelationOneToOne, RelationOneToMany, RelationManyToOne, RelationManyToMany:
	default:
		return fmt.Errorf("%w: unknown relation type %q", ErrValueInvalid, opts.RelationType)
	}
	switch opts.OnDelete {
	case OnDeleteRestrict, OnDeleteCascade, OnDeleteSetNull:
	default:
		return fmt.Errorf("%w: unknown onDelete action %q", ErrValueInvalid, opts.OnDelete)
	}
	if opts.TwoWay && opts.TwoWayKey == "" {
		return fmt.Errorf("%w: two-way relationship %q requires twoWayKey", ErrValueInvalid, a.Key)
	}
	if a.Default != nil {
		return fmt.Errorf("%w: relationship attribute cannot have a default", ErrDefaultUnsupported)
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
