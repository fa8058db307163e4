package alerts

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/agromarket/internal/domain/notify"
	"github.com/xenking/agromarket/internal/notify/dedup"
)

type fakeChat struct {
	messages []string
	err      error
}

func (c *fakeChat) SendMessage(_ context.Context, text string) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, text)
	return nil
}

var alert = notify.LowStock{ProductID: "naranja-valencia", Name: "Naranja", Remaining: 38}

func TestKey(t *testing.T) {
	assert.Equal(t, "naranja-valencia:38", Key(alert))
}

func TestRelay_Handle(t *testing.T) {
	ctx := context.Background()
	rdb, mock := redismock.NewClientMock()
	chat := &fakeChat{}
	r := NewRelay(chat, dedup.New(rdb, "alerts:", time.Minute))
	r.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	mock.ExpectSetNX("alerts:naranja-valencia:38", "1", time.Minute).SetVal(true)
	require.NoError(t, r.Handle(ctx, alert))

	// Redelivery is acknowledged without a second message.
	mock.ExpectSetNX("alerts:naranja-valencia:38", "1", time.Minute).SetVal(false)
	require.NoError(t, r.Handle(ctx, alert))

	require.Len(t, chat.messages, 1)
	assert.Contains(t, chat.messages[0], "*Naranja*")
	assert.Contains(t, chat.messages[0], "*38*")
	assert.Contains(t, chat.messages[0], "01/03/2026, 09:30:00")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelay_HandleFailureReleasesKey(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	chat := &fakeChat{err: errors.New("bot blocked")}
	r := NewRelay(chat, dedup.New(rdb, "alerts:", time.Minute))

	mock.ExpectSetNX("alerts:naranja-valencia:38", "1", time.Minute).SetVal(true)
	mock.ExpectDel("alerts:naranja-valencia:38").SetVal(1)

	err := r.Handle(context.Background(), alert)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bot blocked")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelay_WithoutDedup(t *testing.T) {
	chat := &fakeChat{}
	r := NewRelay(chat, nil)
	require.NoError(t, r.Handle(context.Background(), alert))
	require.NoError(t, r.Handle(context.Background(), alert))
	assert.Len(t, chat.messages, 2)
}
