package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSupported(t *testing.T) {
	tests := []struct {
		name     string
		attrType AttributeType
		format   Format
		expected bool
	}{
		{"no_format", TypeString, "", true},
		{"email_on_string", TypeString, FormatEmail, true},
		{"enum_on_string", TypeString, FormatEnum, true},
		{"ip_on_string", TypeString, FormatIP, true},
		{"url_on_string", TypeString, FormatURL, true},
		{"int_range_on_integer", TypeInteger, FormatIntRange, true},
		{"float_range_on_double", TypeFloat, FormatFloatRange, true},
		{"email_on_integer", TypeInteger, FormatEmail, false},
		{"int_range_on_string", TypeString, FormatIntRange, false},
		{"enum_on_boolean", TypeBoolean, FormatEnum, false},
		{"unknown_format", TypeString, Format("zip"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatSupported(tt.attrType, tt.format))
		})
	}
}

func TestValidateAttribute_DefaultExclusivity(t *testing.T) {
	required := &Attribute{Key: "a", Type: TypeString, Size: 10, Required: true, Default: "x"}
	err := ValidateAttribute(required)
	assert.ErrorIs(t, err, ErrDefaultUnsupported)

	array := &Attribute{Key: "a", Type: TypeString, Size: 10, Array: true, Default: "x"}
	err = ValidateAttribute(array)
	assert.ErrorIs(t, err, ErrDefaultUnsupported)

	ok := &Attribute{Key: "a", Type: TypeString, Size: 10, Default: "x"}
	assert.NoError(t, ValidateAttribute(ok))
}

func TestValidateAttribute_FormatCompatibility(t *testing.T) {
	attr := &Attribute{Key: "n", Type: TypeInteger, Format: FormatEmail}
	assert.ErrorIs(t, ValidateAttribute(attr), ErrFormatUnsupported)
}

func TestValidateDefault_String(t *testing.T) {
	tests := []struct {
		name    string
		attr    *Attribute
		wantErr error
	}{
		{"fits", &Attribute{Type: TypeString, Size: 5, Default: "abc"}, nil},
		{"too_long", &Attribute{Type: TypeString, Size: 2, Default: "abc"}, ErrValueInvalid},
		{"not_a_string", &Attribute{Type: TypeString, Size: 5, Default: 3}, ErrValueInvalid},
		{"valid_email", &Attribute{Type: TypeString, Size: 64, Format: FormatEmail, Default: "a@example.com"}, nil},
		{"invalid_email", &Attribute{Type: TypeString, Size: 64, Format: FormatEmail, Default: "nope"}, ErrValueInvalid},
		{"valid_ip", &Attribute{Type: TypeString, Size: 64, Format: FormatIP, Default: "10.0.0.1"}, nil},
		{"invalid_ip", &Attribute{Type: TypeString, Size: 64, Format: FormatIP, Default: "999.1.1.1"}, ErrValueInvalid},
		{"valid_url", &Attribute{Type: TypeString, Size: 64, Format: FormatURL, Default: "https://example.com"}, nil},
		{"invalid_url", &Attribute{Type: TypeString, Size: 64, Format: FormatURL, Default: "://"}, ErrValueInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDefault(tt.attr)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDefault_Enum(t *testing.T) {
	base := func(def any, elements any) *Attribute {
		return &Attribute{
			Type: TypeString, Format: FormatEnum, Size: 32, Default: def,
			FormatOptions: map[string]any{"elements": elements},
		}
	}

	assert.NoError(t, ValidateDefault(base("a", []string{"a", "b"})))

	err := ValidateDefault(base("x", []string{"a", "b"}))
	assert.ErrorIs(t, err, ErrValueInvalid)

	err = ValidateDefault(base(nil, []string{}))
	assert.ErrorIs(t, err, ErrValueInvalid, "empty element list is rejected even without a default")

	err = ValidateDefault(base(nil, []string{"a", ""}))
	assert.ErrorIs(t, err, ErrValueInvalid, "empty elements are rejected")
}

func TestValidateDefault_NumericBounds(t *testing.T) {
	attr := &Attribute{
		Type: TypeInteger, Format: FormatIntRange, Default: 5,
		FormatOptions: map[string]any{"min": 1, "max": 10},
	}
	assert.NoError(t, ValidateDefault(attr))

	attr.Default = 11
	assert.ErrorIs(t, ValidateDefault(attr), ErrValueInvalid)

	attr.Default = 0
	assert.ErrorIs(t, ValidateDefault(attr), ErrValueInvalid)

	inverted := &Attribute{
		Type: TypeInteger, Format: FormatIntRange,
		FormatOptions: map[string]any{"min": 10, "max": 1},
	}
	assert.ErrorIs(t, ValidateDefault(inverted), ErrValueInvalid, "min above max is rejected")

	bare := &Attribute{
		Type:          TypeInteger,
		FormatOptions: map[string]any{"min": 10, "max": 1},
	}
	assert.ErrorIs(t, ValidateDefault(bare), ErrValueInvalid, "bound ordering holds without a range format")
}

func TestFormatVocabulary(t *testing.T) {
	assert.Equal(t, Format("integer"), FormatIntRange)
	assert.Equal(t, Format("float"), FormatFloatRange)
}

func TestValidateDefault_Datetime(t *testing.T) {
	ok := &Attribute{Type: TypeDatetime, Default: "2024-06-01T10:00:00Z"}
	assert.NoError(t, ValidateDefault(ok))

	bad := &Attribute{Type: TypeDatetime, Default: "yesterday"}
	assert.ErrorIs(t, ValidateDefault(bad), ErrValueInvalid)
}

func TestValidateAttribute_Relationship(t *testing.T) {
	valid := &Attribute{Key: "owner", Type: TypeRelationship}
	valid.SetRelationship(RelationshipOptions{
		RelatedCollection: "users",
		RelationType:      RelationManyToOne,
		OnDelete:          OnDeleteRestrict,
	})
	assert.NoError(t, ValidateAttribute(valid))

	twoWayMissingKey := &Attribute{Key: "owner", Type: TypeRelationship}
	twoWayMissingKey.SetRelationship(RelationshipOptions{
		RelatedCollection: "users",
		RelationType:      RelationOneToMany,
		TwoWay:            true,
		OnDelete:          OnDeleteCascade,
	})
	assert.ErrorIs(t, ValidateAttribute(twoWayMissingKey), ErrValueInvalid)

	noOptions := &Attribute{Key: "owner", Type: TypeRelationship}
	assert.ErrorIs(t, ValidateAttribute(noOptions), ErrValueInvalid)

	badRelation := &Attribute{Key: "owner", Type: TypeRelationship}
	badRelation.SetRelationship(RelationshipOptions{
		RelatedCollection: "users",
		RelationType:      RelationType("sideways"),
		OnDelete:          OnDeleteRestrict,
	})
	assert.ErrorIs(t, ValidateAttribute(badRelation), ErrValueInvalid)
}

func TestAttributeRelationshipRoundTrip(t *testing.T) {
	attr := &Attribute{Key: "owner", Type: TypeRelationship}
	opts := RelationshipOptions{
		RelatedCollection: "users",
		RelationType:      RelationOneToMany,
		TwoWay:            true,
		TwoWayKey:         "items",
		OnDelete:          OnDeleteSetNull,
		Side:              SideParent,
	}
	attr.SetRelationship(opts)

	decoded, ok := attr.Relationship()
	require.True(t, ok)
	assert.Equal(t, opts, decoded)
}
