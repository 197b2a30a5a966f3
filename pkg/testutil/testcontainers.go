package testutil

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ContainerConfig pins the image tags integration tests run against.
type ContainerConfig struct {
	MongoDBVersion  string
	RedisVersion    string
	RabbitMQVersion string
}

func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		MongoDBVersion:  "6.0",
		RedisVersion:    "7.0",
		RabbitMQVersion: "3.12-management",
	}
}

// Endpoint is a started container plus the address tests dial.
type Endpoint struct {
	Container testcontainers.Container
	URI       string
	Host      string
	Port      string
}

func (e *Endpoint) Close(ctx context.Context) error {
	if e == nil || e.Container == nil {
		return nil
	}
	return e.Container.Terminate(ctx)
}

type image struct {
	ref      string
	port     string
	env      map[string]string
	readyLog string
	deadline time.Duration
	uri      string // Sprintf format taking host then port
}

func (img image) start(ctx context.Context) (*Endpoint, error) {
	exposed := nat.Port(img.port + "/tcp")
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        img.ref,
			ExposedPorts: []string{string(exposed)},
			Env:          img.env,
			WaitingFor: wait.ForAll(
				wait.ForLog(img.readyLog),
				wait.ForListeningPort(exposed),
			).WithDeadline(img.deadline),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", img.ref, err)
	}

	endpoint := &Endpoint{Container: container}

	// Only one port is exposed, so the first mapped endpoint is ours.
	addr, err := container.Endpoint(ctx, "")
	if err != nil {
		endpoint.Close(ctx)
		return nil, fmt.Errorf("failed to resolve %s address: %w", img.ref, err)
	}
	if endpoint.Host, endpoint.Port, err = net.SplitHostPort(addr); err != nil {
		endpoint.Close(ctx)
		return nil, fmt.Errorf("unexpected %s address %q: %w", img.ref, addr, err)
	}
	endpoint.URI = fmt.Sprintf(img.uri, endpoint.Host, endpoint.Port)
	return endpoint, nil
}

// StartMongoContainer starts a MongoDB with root credentials test/test.
func StartMongoContainer(ctx context.Context, config ContainerConfig) (*Endpoint, error) {
	return image{
		ref:  "mongo:" + config.MongoDBVersion,
		port: "27017",
		env: map[string]string{
			"MONGO_INITDB_ROOT_USERNAME": "test",
			"MONGO_INITDB_ROOT_PASSWORD": "test",
		},
		readyLog: "Waiting for connections",
		deadline: time.Minute,
		uri:      "mongodb://test:test@%s:%s/?authSource=admin",
	}.start(ctx)
}

// StartRedisContainer returns host:port as the URI.
func StartRedisContainer(ctx context.Context, config ContainerConfig) (*Endpoint, error) {
	return image{
		ref:      "redis:" + config.RedisVersion,
		port:     "6379",
		readyLog: "Ready to accept connections",
		deadline: 30 * time.Second,
		uri:      "%s:%s",
	}.start(ctx)
}

func StartRabbitMQContainer(ctx context.Context, config ContainerConfig) (*Endpoint, error) {
	return image{
		ref:  "rabbitmq:" + config.RabbitMQVersion,
		port: "5672",
		env: map[string]string{
			"RABBITMQ_DEFAULT_USER": "test",
			"RABBITMQ_DEFAULT_PASS": "test",
		},
		readyLog: "Server startup complete",
		deadline: 90 * time.Second,
		uri:      "amqp://test:test@%s:%s/",
	}.start(ctx)
}
