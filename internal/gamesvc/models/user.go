package models

import (
	"time"
)

const (
	RoleAdmin = "ROLE_ADMIN"
	RoleUser  = "ROLE_USER"
)

// Role ids match the ids assigned by the auth service.
var DefaultRoles = []RoleReplica{
	{ID: 1, Name: RoleAdmin},
	{ID: 2, Name: RoleUser},
}

// UserReplica is the local copy of a user owned by the auth service. The id
// is assigned upstream and never generated here.
type UserReplica struct {
	ID          int64         `json:"id"`
	Email       string        `json:"email"`
	DisplayName string        `json:"name"`
	CreatedAt   time.Time     `json:"createdAt"`
	LastLogin   *time.Time    `json:"lastLogin,omitempty"`
	Roles       []RoleReplica `json:"roles,omitempty"`
}

type RoleReplica struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserFields carries the upstream-owned attributes applied by an upsert.
type UserFields struct {
	Email       string
	DisplayName string
	CreatedAt   time.Time // only used when the replica does not exist yet
}

func (u *UserReplica) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}
