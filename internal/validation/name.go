package validation

import (
	"fmt"
	"strings"
)

// MaxChannelNameLength bounds channel names, which double as directory names.
const MaxChannelNameLength = 255

// ValidateChannelName checks that name is usable as a single path segment
// under the image directory.
func ValidateChannelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > MaxChannelNameLength {
		return fmt.Errorf("name too long (max %d characters)", MaxChannelNameLength)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("name %q is reserved", name)
	}

	for _, char := range name {
		if char < 32 || char == 127 {
			return fmt.Errorf("name contains control characters")
		}
	}

	// Separators and characters Windows refuses in file names
	if i := strings.IndexAny(name, `/\:*?"<>|`); i >= 0 {
		return fmt.Errorf("name contains invalid character %q", name[i])
	}

	return nil
}
