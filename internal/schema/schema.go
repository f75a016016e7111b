// Package schema implements the per-shard primary-key schema validator:
// each shard declares the property types that make up its primary
// label's primary key, and CreateVertex is checked against that
// declaration before any delta is produced.
//
// Follows a guard-clause validation style ("if x < 0 { return
// fmt.Errorf(...) }"), generalized from integer range checks to
// dynamic-type checks against internal/value.Kind. The optional schema
// file loader uses gopkg.in/yaml.v3, given a concrete job here:
// `cmd/shardnode --schema-file`.
package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dreamware/graphshard/internal/engineerr"
	"github.com/dreamware/graphshard/internal/value"
)

// PropertyType is the declared dynamic type of one schema property.
type PropertyType string

const (
	TypeBool   PropertyType = "bool"
	TypeInt    PropertyType = "int"
	TypeDouble PropertyType = "double"
	TypeString PropertyType = "string"
)

func (t PropertyType) matches(v value.Value) bool {
	switch t {
	case TypeBool:
		_, ok := v.AsBool()
		return ok
	case TypeInt:
		_, ok := v.AsInt()
		return ok
	case TypeDouble:
		_, ok := v.AsDouble()
		return ok
	case TypeString:
		_, ok := v.AsString()
		return ok
	default:
		return false
	}
}

// SchemaProperty is one declared component of the primary key, in
// declaration order (the order CreateVertex's pk_values must match).
type SchemaProperty struct {
	PropertyID uint32 `yaml:"-"`
	Name       string `yaml:"name"`
	Type       PropertyType `yaml:"type"`
}

// Validator holds one shard's primary-key schema for its primary label.
type Validator struct {
	PrimaryLabelID uint32
	PKSchema       []SchemaProperty
}

// NewValidator returns a validator with no declared schema (CreateVertex
// calls will fail schema validation until properties are declared).
func NewValidator(primaryLabelID uint32) *Validator {
	return &Validator{PrimaryLabelID: primaryLabelID}
}

// SetPKSchema declares the primary-key property list, in order.
func (v *Validator) SetPKSchema(props []SchemaProperty) {
	v.PKSchema = props
}

// ValidateCreate checks a pending CreateVertex call: the primary label
// is present, pk_values has the declared arity and matching dynamic
// types, and no property in props overlaps a pk property id.
func (v *Validator) ValidateCreate(labels []uint32, pkValues []value.Value, props map[uint32]value.Value) error {
	if !containsLabel(labels, v.PrimaryLabelID) {
		return fmt.Errorf("%w: primary label %d not present", engineerr.ErrSchemaViolation, v.PrimaryLabelID)
	}
	if len(pkValues) != len(v.PKSchema) {
		return fmt.Errorf("%w: expected %d primary-key values, got %d", engineerr.ErrSchemaViolation, len(v.PKSchema), len(pkValues))
	}
	for i, decl := range v.PKSchema {
		if !decl.Type.matches(pkValues[i]) {
			return fmt.Errorf("%w: primary-key field %q expects %s, got %s", engineerr.ErrSchemaViolation, decl.Name, decl.Type, pkValues[i].Kind())
		}
		if _, overlap := props[decl.PropertyID]; overlap {
			return fmt.Errorf("%w: property %q duplicates a primary-key field", engineerr.ErrSchemaViolation, decl.Name)
		}
	}
	return nil
}

func containsLabel(labels []uint32, target uint32) bool {
	for _, l := range labels {
		if l == target {
			return true
		}
	}
	return false
}

// file is the on-disk shape loaded by LoadFile; PropertyID is resolved by
// the caller (it needs the shard's ids.Mapper to turn names into ids).
type file struct {
	PrimaryLabel string           `yaml:"primary_label"`
	PrimaryKey   []SchemaProperty `yaml:"primary_key"`
}

// LoadFile parses a YAML schema file of the form:
//
//	primary_label: Person
//	primary_key:
//	  - name: id
//	    type: int
//
// and returns the primary label name plus declared PK properties
// (PropertyID left zero; the caller interns Name via its ids.Mapper and
// fills PropertyID before calling SetPKSchema).
func LoadFile(path string) (primaryLabel string, pk []SchemaProperty, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("reading schema file %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return "", nil, fmt.Errorf("parsing schema file %s: %w", path, err)
	}
	for _, p := range f.PrimaryKey {
		switch p.Type {
		case TypeBool, TypeInt, TypeDouble, TypeString:
		default:
			return "", nil, fmt.Errorf("schema file %s: property %q has unknown type %q", path, p.Name, p.Type)
		}
	}
	return f.PrimaryLabel, f.PrimaryKey, nil
}
