package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/domain"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage"
	"github.com/heddaaibot-ops/agent-toolbox-temp-email/internal/storage/memory"
)

func seedMailbox(t *testing.T, store *memory.Store, mailboxID string, expiresAt time.Time, active bool) {
	t.Helper()
	require.NoError(t, store.CreateMailbox(&domain.Mailbox{
		MailboxID:        mailboxID,
		Email:            mailboxID + "@mail.tm",
		ProviderPassword: "secret",
		Buyer:            "0xbuyer",
		CreatedAt:        time.Now().UTC().Add(-time.Hour),
		ExpiresAt:        expiresAt,
		DurationHours:    24,
		PaymentMethod:    "MON",
		Active:           active,
	}))
}

func TestMailboxService_Get(t *testing.T) {
	store := memory.NewStore()
	svc := NewMailboxService(store, store, &fakeChain{active: true}, zap.NewNop())

	now := time.Now().UTC()
	seedMailbox(t, store, "mb-1", now.Add(time.Hour), true)

	for i := 0; i < 12; i++ {
		require.NoError(t, store.UpsertMessage(&domain.Message{
			ProviderMessageID: string(rune('a' + i)),
			MailboxID:         "mb-1",
			ReceivedAt:        now.Add(time.Duration(i) * time.Minute),
			CreatedAt:         now,
		}))
	}

	detail, err := svc.Get("mb-1")
	require.NoError(t, err)
	assert.True(t, detail.Active)
	assert.False(t, detail.IsExpired)
	assert.Equal(t, int64(12), detail.MessageCount)
	// 详情只带最近 10 封
	assert.Len(t, detail.RecentMessages, 10)

	_, err = svc.Get("mb-missing")
	assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
}

func TestMailboxService_GetLazyDeactivation(t *testing.T) {
	store := memory.NewStore()
	svc := NewMailboxService(store, store, &fakeChain{}, zap.NewNop())

	seedMailbox(t, store, "mb-expired", time.Now().UTC().Add(-time.Minute), true)

	detail, err := svc.Get("mb-expired")
	require.NoError(t, err)
	assert.False(t, detail.Active)
	assert.True(t, detail.IsExpired)

	// 读取路径顺带把存储里的 active 也翻成 false
	stored, err := store.GetMailbox("mb-expired")
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestMailboxService_Status(t *testing.T) {
	store := memory.NewStore()

	t.Run("正常邮箱返回剩余时长与链上状态", func(t *testing.T) {
		svc := NewMailboxService(store, store, &fakeChain{active: true}, zap.NewNop())
		seedMailbox(t, store, "mb-live", time.Now().UTC().Add(time.Hour), true)

		status, err := svc.Status(context.Background(), "mb-live")
		require.NoError(t, err)
		assert.True(t, status.Active)
		assert.False(t, status.IsExpired)
		assert.True(t, status.OnChainActive)
		assert.Greater(t, status.RemainingTime, int64(0))
	})

	t.Run("过期邮箱剩余时长归零", func(t *testing.T) {
		svc := NewMailboxService(store, store, &fakeChain{active: true}, zap.NewNop())
		seedMailbox(t, store, "mb-dead", time.Now().UTC().Add(-time.Hour), true)

		status, err := svc.Status(context.Background(), "mb-dead")
		require.NoError(t, err)
		assert.False(t, status.Active)
		assert.True(t, status.IsExpired)
		assert.Equal(t, int64(0), status.RemainingTime)
	})

	t.Run("链上读取失败时降级为 false", func(t *testing.T) {
		svc := NewMailboxService(store, store, &fakeChain{err: errors.New("rpc timeout")}, zap.NewNop())
		seedMailbox(t, store, "mb-degraded", time.Now().UTC().Add(time.Hour), true)

		status, err := svc.Status(context.Background(), "mb-degraded")
		require.NoError(t, err)
		assert.False(t, status.OnChainActive)
		assert.True(t, status.Active)
	})
}

func TestMailboxService_ListByBuyer(t *testing.T) {
	store := memory.NewStore()
	svc := NewMailboxService(store, store, &fakeChain{}, zap.NewNop())

	now := time.Now().UTC()
	seedMailbox(t, store, "mb-a", now.Add(time.Hour), true)
	seedMailbox(t, store, "mb-b", now.Add(-time.Hour), true)
	require.NoError(t, store.UpsertMessage(&domain.Message{
		ProviderMessageID: "pm-1", MailboxID: "mb-a", ReceivedAt: now, CreatedAt: now,
	}))

	// 大写地址照样命中
	summaries, err := svc.ListByBuyer("0xBUYER")
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byID := map[string]MailboxSummary{}
	for _, s := range summaries {
		byID[s.MailboxID] = s
	}
	assert.Equal(t, int64(1), byID["mb-a"].MessageCount)
	assert.False(t, byID["mb-a"].IsExpired)
	assert.True(t, byID["mb-b"].IsExpired)

	empty, err := svc.ListByBuyer("0xnobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMailboxService_Sweep(t *testing.T) {
	store := memory.NewStore()
	svc := NewMailboxService(store, store, &fakeChain{}, zap.NewNop())

	now := time.Now().UTC()
	seedMailbox(t, store, "mb-1", now.Add(-time.Hour), true)
	seedMailbox(t, store, "mb-2", now.Add(-time.Minute), true)
	seedMailbox(t, store, "mb-3", now.Add(time.Hour), true)

	count, err := svc.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	t.Run("第二轮清扫没有可翻转的行", func(t *testing.T) {
		count, err := svc.Sweep()
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	active, err := store.CountActiveMailboxes()
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)
}
