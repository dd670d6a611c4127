package pipeline

// RawWriter archives raw alert payloads so they can be replayed later.
type RawWriter interface {
	WriteRawMessages(messages [][]byte) error
	Close() error
}
