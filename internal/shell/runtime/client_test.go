package runtime

import (
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePorts(t *testing.T) {
	ports := nat.PortMap{
		"8080/tcp": []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: "8080"},
		},
		"5432/tcp": nil, // exposed but not published
	}

	bindings := decodePorts(ports)
	require.Len(t, bindings, 1)
	assert.Equal(t, 8080, bindings[0].ContainerPort)
	assert.Equal(t, 8080, bindings[0].HostPort)
	assert.Equal(t, "tcp", bindings[0].Protocol)
	assert.Equal(t, "0.0.0.0", bindings[0].HostIP)
}

func TestDecodePorts_EmptyHostPort(t *testing.T) {
	ports := nat.PortMap{
		"6379/udp": []nat.PortBinding{{HostIP: "127.0.0.1"}},
	}

	bindings := decodePorts(ports)
	require.Len(t, bindings, 1)
	assert.Equal(t, 6379, bindings[0].ContainerPort)
	assert.Zero(t, bindings[0].HostPort)
	assert.Equal(t, "udp", bindings[0].Protocol)
}
