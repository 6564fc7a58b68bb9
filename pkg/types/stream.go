package types

type Stream string

const (
	StreamBookDepth = Stream("BookDepth")
	StreamTrade     = Stream("Trade")
)
