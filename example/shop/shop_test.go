package shop_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oligo/txprop"
	"github.com/oligo/txprop/example/shop"
	"github.com/oligo/txprop/sqlxpool"
)

type fixture struct {
	db      *sqlx.DB
	tm      *shop.Manager
	logger  txprop.Logger
	members *shop.MemberRepository
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := shop.Open(ctx, filepath.Join(t.TempDir(), "shop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger, err := txprop.NewLogger(io.Discard, "debug")
	require.NoError(t, err)
	tm := sqlxpool.NewTxManager(db, txprop.WithLogger(logger))
	return &fixture{db: db, tm: tm, logger: logger, members: shop.NewMemberRepository(tm)}
}

func (f *fixture) memberService(logPropagation txprop.Propagation, outer bool) (*shop.MemberService, *shop.LogRepository) {
	logs := shop.NewLogRepository(f.tm, logPropagation)
	return shop.NewMemberService(f.tm, f.members, logs, f.logger, outer), logs
}

func (f *fixture) assertPersisted(t *testing.T, logs *shop.LogRepository, username string, member, log bool) {
	t.Helper()
	ctx := context.Background()
	m, err := f.members.Find(ctx, username)
	require.NoError(t, err)
	assert.Equal(t, member, m != nil, "member %q", username)
	e, err := logs.Find(ctx, username)
	require.NoError(t, err)
	assert.Equal(t, log, e != nil, "log %q", username)
}

func TestMemberService(t *testing.T) {
	ctx := context.Background()

	t.Run("Should save member and log in separate transactions without an outer one", func(t *testing.T) {
		f := setup(t)
		svc, logs := f.memberService(txprop.PropagationRequired, false)

		require.NoError(t, svc.JoinV1(ctx, "outer-off-success"))
		f.assertPersisted(t, logs, "outer-off-success", true, true)
	})

	t.Run("Should keep the member when the separate log transaction fails", func(t *testing.T) {
		f := setup(t)
		svc, logs := f.memberService(txprop.PropagationRequired, false)

		err := svc.JoinV1(ctx, "log-failure-outer-off")
		require.ErrorIs(t, err, shop.ErrLogFailure)
		f.assertPersisted(t, logs, "log-failure-outer-off", true, false)
	})

	t.Run("Should save both in one outer transaction", func(t *testing.T) {
		f := setup(t)
		svc, logs := f.memberService(txprop.PropagationRequired, true)

		require.NoError(t, svc.JoinV1(ctx, "outer-on-success"))
		f.assertPersisted(t, logs, "outer-on-success", true, true)
	})

	t.Run("Should roll back both when the log fails inside the outer transaction", func(t *testing.T) {
		f := setup(t)
		svc, logs := f.memberService(txprop.PropagationRequired, true)

		err := svc.JoinV1(ctx, "log-failure-outer-on")
		require.ErrorIs(t, err, shop.ErrLogFailure)
		f.assertPersisted(t, logs, "log-failure-outer-on", false, false)
	})

	t.Run("Should report unexpected rollback when the recovered log failure poisoned the outer transaction", func(t *testing.T) {
		f := setup(t)
		svc, logs := f.memberService(txprop.PropagationRequired, true)

		err := svc.JoinV2(ctx, "log-failure-recover")
		require.ErrorIs(t, err, txprop.ErrUnexpectedRollback)
		f.assertPersisted(t, logs, "log-failure-recover", false, false)
	})

	t.Run("Should keep the member when the log runs in its own transaction", func(t *testing.T) {
		f := setup(t)
		svc, logs := f.memberService(txprop.PropagationRequiresNew, true)

		require.NoError(t, svc.JoinV2(ctx, "log-failure-requires-new"))
		f.assertPersisted(t, logs, "log-failure-requires-new", true, false)
	})
}

func TestOrderService(t *testing.T) {
	ctx := context.Background()

	newService := func(t *testing.T) (*shop.OrderService, *shop.OrderRepository) {
		f := setup(t)
		orders := shop.NewOrderRepository(f.tm)
		return shop.NewOrderService(f.tm, orders, f.logger), orders
	}

	t.Run("Should complete a paid order", func(t *testing.T) {
		svc, orders := newService(t)
		o := &shop.Order{Username: "regular"}

		require.NoError(t, svc.Order(ctx, o))
		found, err := orders.FindByID(ctx, o.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, shop.PayStatusComplete, found.PayStatus)
	})

	t.Run("Should discard the order on a system failure", func(t *testing.T) {
		svc, orders := newService(t)
		o := &shop.Order{Username: "exception"}

		err := svc.Order(ctx, o)
		require.ErrorIs(t, err, shop.ErrPaymentSystem)
		assert.Equal(t, txprop.Fault("payment"), txprop.KindOf(err))

		found, err := orders.FindByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("Should keep a waiting order when money is short", func(t *testing.T) {
		svc, orders := newService(t)
		o := &shop.Order{Username: "insufficient"}

		err := svc.Order(ctx, o)
		require.ErrorIs(t, err, shop.ErrNotEnoughMoney)

		found, err := orders.FindByID(ctx, o.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, shop.PayStatusWaiting, found.PayStatus)
	})
}
