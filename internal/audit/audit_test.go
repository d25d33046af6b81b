package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/ocx/aacore/internal/aoap"
	"github.com/stretchr/testify/assert"
)

// A real Log requires a live Postgres instance to construct (Open
// pings and migrates); these tests exercise the NoOp path that
// cmd/aacored falls back to when no DSN is configured, which is the
// only path this package can test without a database.

func TestNoOpRecordConnectedDoesNotError(t *testing.T) {
	l := NoOp()
	assert.NoError(t, l.RecordConnected(context.Background(), aoap.DeviceDescriptor{VendorID: 0x18D1}))
}

func TestNoOpRecordDisconnectedDoesNotError(t *testing.T) {
	l := NoOp()
	assert.NoError(t, l.RecordDisconnected(context.Background(), errors.New("boom")))
	assert.NoError(t, l.RecordDisconnected(context.Background(), nil))
}

func TestNoOpRecordChannelErrorDoesNotError(t *testing.T) {
	l := NoOp()
	assert.NoError(t, l.RecordChannelError(context.Background(), "VIDEO", errors.New("decode failed")))
}

func TestNoOpCloseDoesNotError(t *testing.T) {
	l := NoOp()
	assert.NoError(t, l.Close())
}
