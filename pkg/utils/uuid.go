package utils

import "github.com/google/uuid"

// IsUUID checks if the string is a valid UUID.
// Room, message and attachment ids are always UUIDs.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
