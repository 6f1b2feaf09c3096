package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ob-labs/powermem-go/pkg/storage"
)

func TestVectorConversionRoundTrip(t *testing.T) {
	original := []float64{0.125, -0.5, 0.75, 1.0}

	restored := fromVector(toVector(original))

	assert.InDeltaSlice(t, original, restored, 1e-6, "embedding must survive the float32 wire format")
}

func TestOpClassByMetric(t *testing.T) {
	assert.Equal(t, "vector_cosine_ops", opClass(storage.MetricCosine))
	assert.Equal(t, "vector_l2_ops", opClass(storage.MetricL2))
	assert.Equal(t, "vector_ip_ops", opClass(storage.MetricIP))
	assert.Equal(t, "vector_cosine_ops", opClass(""), "unset metric defaults to cosine")
}
