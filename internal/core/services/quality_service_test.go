package services

import (
	"testing"
	"time"

	"proctorlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestClassifyQuality(t *testing.T) {
	tests := []struct {
		name    string
		latency time.Duration
		want    domain.ConnectionQuality
	}{
		{"instant", 0, domain.QualityExcellent},
		{"just under excellent threshold", 99 * time.Millisecond, domain.QualityExcellent},
		{"at excellent threshold", 100 * time.Millisecond, domain.QualityGood},
		{"just under good threshold", 199 * time.Millisecond, domain.QualityGood},
		{"at good threshold", 200 * time.Millisecond, domain.QualityPoor},
		{"very slow", 2 * time.Second, domain.QualityPoor},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyQuality(tt.latency))
		})
	}
}
