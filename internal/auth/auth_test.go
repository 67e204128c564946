package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	m := NewManager([]TokenEntry{
		{Token: "abc", Subdomains: []string{"project1"}, Role: RoleUser},
		{Token: "admin", Subdomains: nil, Role: RoleAdmin},
	})

	assert.True(t, m.Validate("abc", "project1"))
	assert.False(t, m.Validate("abc", "other"))
	assert.True(t, m.Validate("admin", "whatever"), "admin should allow any subdomain")
	assert.False(t, m.Validate("", "project1"))
	assert.False(t, m.Validate("unknown", "project1"))
}

func TestValidateWildcard(t *testing.T) {
	m := NewManager([]TokenEntry{
		{Token: "any", Subdomains: []string{"*"}, Role: RoleUser},
	})

	assert.True(t, m.Validate("any", "whatever"))
}

func TestRoleAndKnown(t *testing.T) {
	m := NewManager([]TokenEntry{
		{Token: "abc", Subdomains: []string{"project1"}, Role: RoleUser},
	})

	assert.Equal(t, RoleUser, m.Role("abc"))
	assert.Equal(t, "", m.Role("missing"))
	assert.True(t, m.Known("abc"))
	assert.False(t, m.Known("missing"))
}

func TestNewManagerFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.yaml")
	content := `tokens:
  - token: user123
    subdomains: ["myapp", "myapp-*"]
    role: user
  - token: admin456
    subdomains: ["*"]
    role: admin
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	m, err := NewManagerFromFile(path)
	require.NoError(t, err)

	assert.True(t, m.Validate("user123", "myapp"))
	assert.True(t, m.Validate("user123", "myapp-staging"))
	assert.False(t, m.Validate("user123", "other"))
	assert.Equal(t, RoleAdmin, m.Role("admin456"))
}

func TestNewManagerFromFileMissing(t *testing.T) {
	_, err := NewManagerFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
