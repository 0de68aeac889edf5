package sdk

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// NewSessionID returns a random UUID, or a time+random composite if the
// system random source is unavailable.
func NewSessionID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	return fmt.Sprintf("sess_%x_%x", rand.Uint64(), time.Now().UnixMilli())
}
