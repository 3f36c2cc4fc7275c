package model

import "fmt"

// Rating bounds and buffer size shared by servers and agents.
const (
	MinRating        = 1
	MaxRating        = 5
	MaxRatingEntries = 100
)

// RatingEntry is a single user rating inside an entity's rotating buffer.
type RatingEntry struct {
	User   string `json:"user"`
	Rating int    `json:"rating"`
}

// ValidateRating checks that a rating value is inside the accepted range.
func ValidateRating(rating int) error {
	if rating < MinRating || rating > MaxRating {
		return fmt.Errorf("rating must be between %d and %d (inclusive)", MinRating, MaxRating)
	}
	return nil
}

// SubmitRating applies a user's rating to the buffer. An existing entry for
// the same user is updated in place without reordering; a new entry is
// appended, evicting the oldest entry once the buffer exceeds
// MaxRatingEntries. Returns the updated buffer and whether the rating was
// new.
func SubmitRating(entries []RatingEntry, user string, rating int) ([]RatingEntry, bool, error) {
	if err := ValidateRating(rating); err != nil {
		return entries, false, err
	}
	for i := range entries {
		if entries[i].User == user {
			entries[i].Rating = rating
			return entries, false, nil
		}
	}
	entries = append(entries, RatingEntry{User: user, Rating: rating})
	if len(entries) > MaxRatingEntries {
		entries = entries[len(entries)-MaxRatingEntries:]
	}
	return entries, true, nil
}

// AverageRating returns the mean of all ratings in the buffer, or 0.0 for an
// empty buffer.
func AverageRating(entries []RatingEntry) float64 {
	if len(entries) == 0 {
		return 0.0
	}
	sum := 0
	for _, e := range entries {
		sum += e.Rating
	}
	return float64(sum) / float64(len(entries))
}
