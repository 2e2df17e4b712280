package outbox

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"secmatch/internal/domain"
	"secmatch/internal/store"
)

type recordingLive struct {
	fail bool
	got  []domain.Message
}

func (r *recordingLive) Send(m domain.Message) error {
	if r.fail {
		return assertErr
	}
	r.got = append(r.got, m)
	return nil
}

var assertErr = &liveErr{}

type liveErr struct{}

func (*liveErr) Error() string { return "disconnected" }

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	s, err := store.NewGormStore(db)
	require.NoError(t, err)
	return s
}

func TestSendDeliversLiveWithoutPersisting(t *testing.T) {
	st := newTestStore(t)
	ob := New(st)
	live := &recordingLive{}
	ob.Online(1, live)

	msg := domain.Message{AccountID: 1, EventType: "trade", Data: json.RawMessage(`{"x":1}`)}
	require.NoError(t, ob.Send(context.Background(), 1, msg))
	require.Len(t, live.got, 1)

	var stored []domain.Message
	require.NoError(t, st.StreamMessages(context.Background(), func(m domain.Message) error {
		stored = append(stored, m)
		return nil
	}))
	assert.Empty(t, stored)
}

func TestSendPersistsWhenOffline(t *testing.T) {
	st := newTestStore(t)
	ob := New(st)

	msg := domain.Message{AccountID: 2, EventType: "trade", Data: json.RawMessage(`{"x":1}`)}
	require.NoError(t, ob.Send(context.Background(), 2, msg))

	pending := ob.Online(2, &recordingLive{})
	require.Len(t, pending, 1)
	assert.Equal(t, "trade", pending[0].EventType)
}

func TestSendFallsBackWhenLiveSendFails(t *testing.T) {
	st := newTestStore(t)
	ob := New(st)
	ob.Online(3, &recordingLive{fail: true})

	msg := domain.Message{AccountID: 3, EventType: "Canceled", Data: json.RawMessage(`{}`)}
	require.NoError(t, ob.Send(context.Background(), 3, msg))

	ob.Offline(3, &recordingLive{}) // different pointer: should not clear
	pending := ob.Online(3, &recordingLive{})
	require.Len(t, pending, 1)
}
