package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphshard/internal/engineerr"
	"github.com/dreamware/graphshard/internal/value"
)

func TestValidateCreateAcceptsMatchingSchema(t *testing.T) {
	v := NewValidator(1)
	v.SetPKSchema([]SchemaProperty{{PropertyID: 10, Name: "id", Type: TypeInt}})

	err := v.ValidateCreate([]uint32{1}, []value.Value{value.Int(42)}, map[uint32]value.Value{20: value.String("x")})
	assert.NoError(t, err)
}

func TestValidateCreateRejectsMissingPrimaryLabel(t *testing.T) {
	v := NewValidator(1)
	v.SetPKSchema([]SchemaProperty{{PropertyID: 10, Name: "id", Type: TypeInt}})

	err := v.ValidateCreate([]uint32{2}, []value.Value{value.Int(1)}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, engineerr.ErrSchemaViolation)
}

func TestValidateCreateRejectsArityMismatch(t *testing.T) {
	v := NewValidator(1)
	v.SetPKSchema([]SchemaProperty{
		{PropertyID: 10, Name: "id", Type: TypeInt},
		{PropertyID: 11, Name: "region", Type: TypeString},
	})

	err := v.ValidateCreate([]uint32{1}, []value.Value{value.Int(1)}, nil)
	assert.ErrorIs(t, err, engineerr.ErrSchemaViolation)
}

func TestValidateCreateRejectsTypeMismatch(t *testing.T) {
	v := NewValidator(1)
	v.SetPKSchema([]SchemaProperty{{PropertyID: 10, Name: "id", Type: TypeInt}})

	err := v.ValidateCreate([]uint32{1}, []value.Value{value.String("not-an-int")}, nil)
	assert.ErrorIs(t, err, engineerr.ErrSchemaViolation)
}

func TestValidateCreateRejectsPKPropertyOverlap(t *testing.T) {
	v := NewValidator(1)
	v.SetPKSchema([]SchemaProperty{{PropertyID: 10, Name: "id", Type: TypeInt}})

	err := v.ValidateCreate([]uint32{1}, []value.Value{value.Int(1)}, map[uint32]value.Value{10: value.Int(2)})
	assert.ErrorIs(t, err, engineerr.ErrSchemaViolation)
}

func TestLoadFileParsesYAMLSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	contents := "primary_label: Person\nprimary_key:\n  - name: id\n    type: int\n  - name: region\n    type: string\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	label, pk, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Person", label)
	require.Len(t, pk, 2)
	assert.Equal(t, "id", pk[0].Name)
	assert.Equal(t, TypeInt, pk[0].Type)
	assert.Equal(t, TypeString, pk[1].Type)
}

func TestLoadFileRejectsUnknownType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schema.yaml")
	contents := "primary_label: Person\nprimary_key:\n  - name: id\n    type: uuid\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	_, _, err := LoadFile(path)
	assert.Error(t, err)
}
