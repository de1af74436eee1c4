package models

import (
	"time"
)

type User struct {
	ID           string    `json:"id" dynamodbav:"id"`
	Username     string    `json:"username" dynamodbav:"username"`
	Email        string    `json:"email,omitempty" dynamodbav:"email,omitempty"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	IsSuperuser  bool      `json:"is_superuser" dynamodbav:"is_superuser"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER#" + u.ID
}

func (u *User) GetSK() string {
	return "METADATA"
}

// UsernamePK is the key of the item that reserves a username for one user.
func UsernamePK(username string) string {
	return "USERNAME#" + username
}
