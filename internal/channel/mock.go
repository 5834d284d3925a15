package channel

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Mock is a stand-in adapter for test and demo environments. It validates
// syntactically, simulates a little latency and succeeds with a fixed
// probability instead of calling a live provider.
type Mock struct {
	// SuccessRate in (0,1]; zero means the 0.95 default.
	SuccessRate float64
	Latency     time.Duration
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) FormatIdentifier(raw string) string {
	return strings.TrimSpace(raw)
}

func (m *Mock) ValidateIdentifier(value string) bool {
	return value != ""
}

func (m *Mock) Send(ctx context.Context, identifier, _ string, _ SendOptions) SendResult {
	id := m.FormatIdentifier(identifier)
	if !m.ValidateIdentifier(id) {
		return Failure("mock: empty identifier")
	}

	if m.Latency > 0 {
		select {
		case <-ctx.Done():
			return Failure("mock: cancelled")
		case <-time.After(m.Latency):
		}
	}

	rate := m.SuccessRate
	if rate == 0 {
		rate = 0.95
	}
	if rand.Float64() >= rate {
		return Failure("mock: simulated delivery failure")
	}
	return Success("mock-" + uuid.NewString())
}
