package models

import "strings"

// ValidateSaga checks the required fields and normalizes TotalChapters.
func ValidateSaga(s *Saga) error {
	if strings.TrimSpace(s.UserID) == "" {
		return Invalid("userId", "is required")
	}
	if strings.TrimSpace(s.Title) == "" {
		return Invalid("title", "is required")
	}
	if strings.TrimSpace(s.WorldName) == "" {
		return Invalid("worldName", "is required")
	}
	if strings.TrimSpace(s.Premise) == "" {
		return Invalid("premise", "is required")
	}
	if s.TotalChapters == 0 {
		s.TotalChapters = DefaultTotalChapters
	}
	if s.TotalChapters < 1 || s.TotalChapters > MaxTotalChapters {
		return Invalid("totalChapters", "must be between 1 and %d", MaxTotalChapters)
	}
	if s.StoryMode != "" && !s.StoryMode.Valid() {
		return Invalid("storyMode", "unknown mode %q", s.StoryMode)
	}
	return nil
}
