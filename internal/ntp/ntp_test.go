package ntp

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	reply     []byte
	err       error
	callCount int
	failUntil int
}

func (f *fakeTransport) Exchange(ctx context.Context, server string, request []byte) ([]byte, error) {
	f.callCount++
	if f.failUntil > 0 && f.callCount <= f.failUntil {
		return nil, errors.New("transient network error")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func replyWithServerTime(t time.Time) []byte {
	packet := make([]byte, packetSize)
	secs := uint32(t.Unix() + ntpEpochOffset)
	binary.BigEndian.PutUint32(packet[40:44], secs)
	binary.BigEndian.PutUint32(packet[44:48], 0)
	return packet
}

func TestQueryComputesZeroDriftWhenClocksAgree(t *testing.T) {
	fixed := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	transport := &fakeTransport{reply: replyWithServerTime(fixed)}
	probe := NewProbe(transport, func() time.Time { return fixed })

	result, err := probe.Query(context.Background(), "test-server:123")
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.DriftMs)
}

func TestQueryDetectsPositiveDrift(t *testing.T) {
	serverTime := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	localTime := serverTime.Add(1500 * time.Millisecond)
	transport := &fakeTransport{reply: replyWithServerTime(serverTime)}
	probe := NewProbe(transport, func() time.Time { return localTime })

	result, err := probe.Query(context.Background(), "test-server:123")
	require.NoError(t, err)
	assert.InDelta(t, 1500, result.DriftMs, 5)
}

func TestQueryWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	fixed := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	transport := &fakeTransport{reply: replyWithServerTime(fixed), failUntil: 2}
	probe := NewProbe(transport, func() time.Time { return fixed })

	result, err := probe.QueryWithRetry(context.Background(), "test-server:123", 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.DriftMs)
	assert.Equal(t, 3, transport.callCount)
}

func TestQueryWithRetryExhaustsAttempts(t *testing.T) {
	transport := &fakeTransport{err: errors.New("server unreachable")}
	probe := NewProbe(transport, nil)

	_, err := probe.QueryWithRetry(context.Background(), "test-server:123", 3, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, 3, transport.callCount)
}

func TestQueryRejectsShortReply(t *testing.T) {
	transport := &fakeTransport{reply: []byte{1, 2, 3}}
	probe := NewProbe(transport, nil)

	_, err := probe.Query(context.Background(), "test-server:123")
	require.Error(t, err)
}
