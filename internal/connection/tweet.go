package connection

import "time"

// Tweet is one post read from the social platform. Platform connections
// return []Tweet from read-timeline and get-tweet-replies.
type Tweet struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	AuthorID       string    `json:"author_id"`
	AuthorUsername string    `json:"author_username"`
	CreatedAt      time.Time `json:"created_at"`
}
