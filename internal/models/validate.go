package models

import (
	"fmt"
	"strings"
)

// Validate checks the fields an admin write must provide.
func (c *Credential) Validate() error {
	if strings.TrimSpace(c.Secret) == "" {
		return fmt.Errorf("%w: apiKey is required", ErrInvalidInput)
	}
	if strings.TrimSpace(c.GroupID) == "" {
		return fmt.Errorf("%w: groupId is required", ErrInvalidInput)
	}
	if c.DailyQuota < 0 {
		return fmt.Errorf("%w: dailyQuota must not be negative", ErrInvalidInput)
	}
	return nil
}

// Validate checks the fields an admin write must provide.
func (g *Group) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return nil
}
