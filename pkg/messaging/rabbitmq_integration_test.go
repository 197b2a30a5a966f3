//go:build integration

package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grigta/hotspot/pkg/testutil"
)

func TestRabbitMQ_PublishEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	endpoint, err := testutil.StartRabbitMQContainer(ctx, testutil.DefaultContainerConfig())
	require.NoError(t, err)
	defer endpoint.Close(context.Background())

	const exchange = "hotspot.events"
	publisher, err := NewRabbitMQ(endpoint.URI, exchange)
	require.NoError(t, err)
	defer publisher.Close()

	conn, err := amqp.Dial(endpoint.URI)
	require.NoError(t, err)
	defer conn.Close()

	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(queue.Name, "session.*", exchange, false, nil))

	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	require.NoError(t, publisher.PublishEvent(exchange, "session.completed", map[string]string{"session_id": "s-1"}))

	select {
	case d := <-deliveries:
		assert.Equal(t, "application/json", d.ContentType)
		assert.Equal(t, "session.completed", d.RoutingKey)

		var msg Message
		require.NoError(t, json.Unmarshal(d.Body, &msg))
		assert.Equal(t, "session.completed", msg.Type)
		assert.NotEmpty(t, msg.ID)
		assert.Equal(t, "s-1", msg.Data.(map[string]interface{})["session_id"])
	case <-time.After(10 * time.Second):
		t.Fatal("event was not delivered")
	}
}
