package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "donationd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
	require.NotNil(t, Tracer("charityledger/core"))
}

func TestParseKeyValues(t *testing.T) {
	parsed := ParseKeyValues(" api-key = secret ,broken, =x,tenant=ledger")
	require.Equal(t, map[string]string{"api-key": "secret", "tenant": "ledger"}, parsed)
}

func TestNewResourceCarriesIdentityAndAttributes(t *testing.T) {
	res, err := NewResource(Config{
		ServiceName:    "donationd",
		ServiceVersion: "1.2.0",
		Environment:    "staging",
		Attributes:     map[string]string{"ledger.region": "eu"},
	})
	require.NoError(t, err)

	got := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		got[kv.Key] = kv.Value.Emit()
	}
	require.Equal(t, "donationd", got["service.name"])
	require.Equal(t, "1.2.0", got["service.version"])
	require.Equal(t, "staging", got["deployment.environment"])
	require.Equal(t, "eu", got["ledger.region"])
}

func TestSamplerRatio(t *testing.T) {
	require.Equal(t, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description(), Sampler(0).Description())
	require.Equal(t, sdktrace.ParentBased(sdktrace.AlwaysSample()).Description(), Sampler(1).Description())
	require.Contains(t, Sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
