package watcher

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"five fields", "*/5 * * * *", false},
		{"descriptor", "@hourly", false},
		{"every", "@every 30s", false},
		{"seconds field", "0 */5 * * * *", true},
		{"garbage", "whenever", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchedule(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRescannerNext(t *testing.T) {
	r, err := NewRescanner("0 3 * * *", nil, zerolog.Nop())
	require.NoError(t, err)

	from := time.Date(2026, 1, 2, 10, 0, 0, 0, time.Local)
	assert.Equal(t, time.Date(2026, 1, 3, 3, 0, 0, 0, time.Local), r.Next(from))
}

func TestRescannerFires(t *testing.T) {
	fired := make(chan struct{}, 4)
	r, err := NewRescanner("@every 1s", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, zerolog.Nop())
	require.NoError(t, err)

	r.Start()
	defer r.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("rescan was not scheduled")
	}

	r.Stop()
	r.Stop()
}

func TestNewRescannerRejectsBadSchedule(t *testing.T) {
	_, err := NewRescanner("not a schedule", func() {}, zerolog.Nop())
	assert.Error(t, err)
}
