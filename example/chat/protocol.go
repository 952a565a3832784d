package main

import "github.com/Zereker/msgnet"

// chatTag identifies text messages on the wire.
const chatTag msgnet.Tag = 1337

const (
	welcomeText = "Welcome to the server!"
	thanksText  = "Thank you for messages."
)

func newRegistry() *msgnet.Registry {
	return msgnet.NewRegistry().MustRegister(chatTag, func() msgnet.Message {
		return new(msgnet.StringMessage)
	})
}

func connOptions(cfg Config, logger msgnet.Logger) []msgnet.Option {
	return []msgnet.Option{
		msgnet.FrameTimeoutOption(cfg.FrameTimeout),
		msgnet.MessageMaxSize(cfg.MaxMessageSize),
		msgnet.LoggerOption(logger),
	}
}
