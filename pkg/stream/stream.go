package stream

// Stream is a live market-data subscription. Closing it is final; callbacks stop
// once Close returns.
type Stream interface {
	ConnectAndSubscribe(params map[string]string, cb func(e []byte)) (doneC chan struct{}, stopC chan struct{}, err error)
	Close()
	IsClosed() bool
}
