package slackbot

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/ccbridge/ccbridge/internal/bridge"
)

// SlackAPI abstracts the subset of slack.Client methods used by the bot.
// This allows tests to substitute a mock implementation without a live Slack connection.
type SlackAPI interface {
	AuthTest() (response *slack.AuthTestResponse, err error)

	PostMessage(channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeral(channelID, userID string, options ...slack.MsgOption) (string, error)
	UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)

	GetUserInfo(userID string) (*slack.User, error)
}

// Handler receives the messages the bot accepts. *bridge.Bridge implements it.
type Handler interface {
	Handle(ctx context.Context, in bridge.Inbound) bool
}
