package models

import (
	"crypto/sha256"
	"encoding/hex"

	"resv/src/types"
)

// Partner is the narrow stand-in for the external integrator directory.
// The auth middleware only ever reads it through FindByAPIKey. Credentials
// are stored hashed; the raw key exists only in the request header.
type Partner struct {
	ID         uint   `gorm:"primarykey" json:"id"`
	Name       string `json:"name,omitempty"`
	APIKeyHash string `gorm:"uniqueIndex;size:64" json:"-"`
	Active     bool   `gorm:"default:true" json:"active,omitempty"`

	types.Timestamps
}

// HashAPIKey is the at-rest form of a partner credential.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
