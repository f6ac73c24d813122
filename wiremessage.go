package eventcore

// WireMessage is the payload shape carried on a stream entry: an event
// name, the originating node, and msgpack-encoded positional args.
//
// RetryCount travels in-band on the entry itself (as opposed to a side
// channel) so that a claimed-but-unacked message carries its own retry
// history when it gets re-added to the stream.
type WireMessage struct {
	ID         string
	Name       string
	Source     string
	Args       []byte
	RetryCount int
}

const wireFieldName = "name"
const wireFieldSource = "source"
const wireFieldArgs = "args"
const wireFieldRetryCount = "_retry_count"

func (m WireMessage) toValues() map[string]interface{} {
	return map[string]interface{}{
		wireFieldName:       m.Name,
		wireFieldSource:     m.Source,
		wireFieldArgs:       m.Args,
		wireFieldRetryCount: m.RetryCount,
	}
}

func wireMessageFromValues(id string, values map[string]interface{}) WireMessage {
	m := WireMessage{ID: id}
	if v, ok := values[wireFieldName].(string); ok {
		m.Name = v
	}
	if v, ok := values[wireFieldSource].(string); ok {
		m.Source = v
	}
	switch v := values[wireFieldArgs].(type) {
	case string:
		m.Args = []byte(v)
	case []byte:
		m.Args = v
	}
	switch v := values[wireFieldRetryCount].(type) {
	case string:
		m.RetryCount = atoiSafe(v)
	case int64:
		m.RetryCount = int(v)
	case int:
		m.RetryCount = v
	}
	return m
}

// withIncrementedRetry returns a copy of the message ready to be
// re-appended to the stream with its retry counter bumped.
func (m WireMessage) withIncrementedRetry() WireMessage {
	next := m
	next.ID = ""
	next.RetryCount++
	return next
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
