package shutdown

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdown_RunsInOrderOnce(t *testing.T) {
	m := NewManager()
	var order []string
	m.OnShutdown("http", func(context.Context) error { order = append(order, "http"); return nil })
	m.OnShutdown("snapshot", func(context.Context) error { order = append(order, "snapshot"); return errors.New("disk full") })
	m.OnShutdown("store", func(context.Context) error { order = append(order, "store"); return nil })

	assert.Equal(t, 1, m.Shutdown(context.Background()))
	assert.Equal(t, []string{"http", "snapshot", "store"}, order)

	assert.Equal(t, 0, m.Shutdown(context.Background()))
	assert.Len(t, order, 3)
}
