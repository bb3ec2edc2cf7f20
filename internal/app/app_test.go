package app

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/signalbot/internal/config"
)

func TestClose_RunsClosersInReverseOnce(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var order []string
	a.closers = append(a.closers,
		func() { order = append(order, "postgres") },
		func() { order = append(order, "redis") },
	)

	a.Close()
	a.Close()

	assert.Equal(t, []string{"redis", "postgres"}, order)
}
