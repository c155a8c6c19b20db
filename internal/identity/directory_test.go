package identity

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turbine-shutdown/backend/internal/models"
)

const usersYAML = `
users:
  - id: op-1
    username: alice
    role: Operator
    active: true
  - id: sup-1
    role: supervisor
    active: true
  - id: old-1
    role: engineer
    active: false
`

func TestLoad(t *testing.T) {
	d, err := Load(strings.NewReader(usersYAML))
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())

	u, err := d.Resolve(context.Background(), "op-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, models.RoleOperator, u.Role)
	assert.True(t, u.IsActive)

	u, err = d.Resolve(context.Background(), "sup-1")
	require.NoError(t, err)
	assert.Equal(t, "sup-1", u.Username, "username defaults to the id")

	u, err = d.Resolve(context.Background(), "old-1")
	require.NoError(t, err)
	assert.False(t, u.IsActive)

	_, err = d.Resolve(context.Background(), "nobody")
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{name: "missing id", src: "users:\n  - role: operator\n", wantErr: "id is required"},
		{name: "unknown role", src: "users:\n  - id: x\n    role: janitor\n", wantErr: "unknown role"},
		{name: "duplicate", src: "users:\n  - id: x\n    role: operator\n  - id: x\n    role: auditor\n", wantErr: "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.yaml")
	require.NoError(t, os.WriteFile(path, []byte(usersYAML), 0644))

	d, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEmptyFile(t *testing.T) {
	d, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 0, d.Len())

	d.Put(models.User{ID: "adm", Role: models.RoleAdministrator, IsActive: true})
	u, err := d.Resolve(context.Background(), "adm")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdministrator, u.Role)
}
