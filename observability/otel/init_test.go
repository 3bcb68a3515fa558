package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" authorization = Bearer x ,broken, =skip,tenant=core,")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "tenant": "core"}, headers)
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.ErrorIs(t, err, errServiceName)
}

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "treasuryd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.NotNil(t, Tracer("test"))
}
