package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/bwusage/internal/config"
	"github.com/jgoulah/bwusage/internal/logging"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.Wait() }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

func completed(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	sent         []message
	token        mqtt.Token
	connected    bool
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, message{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return c.token
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestPublishRetainedUnderPrefix(t *testing.T) {
	t.Parallel()
	c := &fakeClient{token: completed(nil), connected: true}
	p := newPublisher(c, "bwusage", logging.Discard())

	require.NoError(t, p.Publish(context.Background(), "2019-5", []byte(`[]`)))
	require.Len(t, c.sent, 1)
	assert.Equal(t, message{topic: "bwusage/2019-5", qos: 1, retained: true, payload: []byte(`[]`)}, c.sent[0])

	p.Close()
	assert.True(t, c.disconnected)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()
	brokerErr := errors.New("not authorized")
	p := newPublisher(&fakeClient{token: completed(brokerErr)}, "bwusage", logging.Discard())
	assert.ErrorIs(t, p.Publish(context.Background(), "all", nil), brokerErr)

	// never acked
	pending := &fakeToken{done: make(chan struct{})}
	p = newPublisher(&fakeClient{token: pending}, "bwusage", logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, "all", nil), context.Canceled)
}

func TestCloseSkipsDisconnectedClient(t *testing.T) {
	t.Parallel()
	c := &fakeClient{}
	newPublisher(c, "x", logging.Discard()).Close()
	assert.False(t, c.disconnected)
}

func TestNewRequiresBroker(t *testing.T) {
	t.Parallel()
	_, err := New(&config.Config{MQTT: config.MQTTConfig{Enabled: true}}, logging.Discard())
	assert.Error(t, err)
}
