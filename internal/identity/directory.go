// Package identity resolves user ids to roles from a static user directory.
package identity

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/turbine-shutdown/backend/internal/models"
)

// usersFile is the on-disk layout of a user directory.
type usersFile struct {
	Users []models.User `yaml:"users"`
}

// Directory is an in-memory identity provider. It is safe for concurrent use.
type Directory struct {
	mu    sync.RWMutex
	users map[string]models.User
}

// NewDirectory creates a directory holding the given users.
func NewDirectory(users ...models.User) *Directory {
	d := &Directory{users: make(map[string]models.User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// LoadFile reads a YAML user directory.
func LoadFile(path string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening users file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a YAML user directory. Every user needs an id and a known role.
func Load(r io.Reader) (*Directory, error) {
	var file usersFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parsing users: %w", err)
	}

	d := NewDirectory()
	for i, u := range file.Users {
		if u.ID == "" {
			return nil, fmt.Errorf("user %d: id is required", i)
		}
		role := models.ParseRole(string(u.Role))
		if role == "" {
			return nil, fmt.Errorf("user %s: unknown role %q", u.ID, u.Role)
		}
		u.Role = role
		if u.Username == "" {
			u.Username = u.ID
		}
		if _, dup := d.users[u.ID]; dup {
			return nil, fmt.Errorf("user %s: duplicate id", u.ID)
		}
		d.users[u.ID] = u
	}
	return d, nil
}

// Resolve implements session.IdentityProvider.
func (d *Directory) Resolve(_ context.Context, userID string) (models.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return models.User{}, models.NewError(models.KindUserNotFound, "user %s not found", userID).WithUser(userID)
	}
	return u, nil
}

// Put adds or replaces a user.
func (d *Directory) Put(u models.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// Len returns the number of users.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
