package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceMeters(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want                   float64
		delta                  float64
	}{
		{
			name: "same point",
			lat1: 41.8781, lng1: -87.6298,
			lat2: 41.8781, lng2: -87.6298,
			want: 0, delta: 0.01,
		},
		{
			name: "one degree latitude",
			lat1: 41.0, lng1: -87.0,
			lat2: 42.0, lng2: -87.0,
			want: 111195, delta: 200,
		},
		{
			name: "across a city block",
			lat1: 41.8781, lng1: -87.6298,
			lat2: 41.8790, lng2: -87.6298,
			want: 100, delta: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceMeters(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			assert.InDelta(t, tt.want, got, tt.delta)
		})
	}
}
