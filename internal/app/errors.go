package app

import "errors"

var (
	// ErrConversationBusy means another submission currently holds the
	// conversation's lease. Callers should retry after a short delay.
	ErrConversationBusy = errors.New("conversation is processing another message")

	// ErrConversationNotFound covers both a missing conversation and one
	// owned by a different user; callers cannot tell the two apart.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound means the message does not exist in the
	// conversation.
	ErrMessageNotFound = errors.New("message not found")

	// ErrEmptyContent rejects submissions without text or attachments.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrUnknownProvider rejects submissions naming a generation backend
	// the service is not configured for.
	ErrUnknownProvider = errors.New("unknown generation provider")
)
