package agent

import "fmt"

// MaxTweetLength is the platform's character limit for one post.
const MaxTweetLength = 280

const postTweetPrompt = "Generate an engaging tweet. Don't include any hashtags, links or emojis. " +
	"Keep it under 280 characters. The tweets should be pure commentary, do not shill any coins " +
	"or projects apart from %s. Do not repeat any of the tweets that were given as example. " +
	"Avoid the words AI and crypto."

const replyTweetPrompt = "Generate a friendly, engaging reply to this tweet: %s. Keep it under 280 " +
	"characters. Don't include any usernames, hashtags, links or emojis."

// PostTweetPrompt is the user prompt for a new post when the caller gave none.
func PostTweetPrompt(agentName string) string {
	return fmt.Sprintf(postTweetPrompt, agentName)
}

// ReplyTweetPrompt is the user prompt for a reply to tweetText.
func ReplyTweetPrompt(tweetText string) string {
	return fmt.Sprintf(replyTweetPrompt, tweetText)
}
