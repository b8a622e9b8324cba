//go:build integration

package repo

import (
	"context"
	"testing"
	"time"

	domain "github.com/aq2208/gcheckout/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

func TestMySQLStore_Integration(t *testing.T) {
	ctx := context.Background()
	container, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("checkout"),
		mysql.WithUsername("checkout"),
		mysql.WithPassword("checkout"),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	require.NoError(t, err)

	db, err := Open(ctx, dsn, PoolConfig{})
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))

	orders := NewMySQLOrderRepo(db)
	o := sampleOrder()
	require.NoError(t, orders.Create(ctx, o))
	require.NoError(t, orders.Create(ctx, o))

	got, err := orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(o.Total))
	assert.Equal(t, o.Customer.Email, got.Customer.Email)

	ok, err := orders.UpdateOrderStatusIf(ctx, o.ID, domain.OrderProcessing, domain.OrderShipped)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = orders.UpdateOrderStatusIf(ctx, o.ID, domain.OrderProcessing, domain.OrderShipped)
	require.NoError(t, err)
	assert.False(t, ok)

	outbox := NewMySQLOutboxRepo(db)
	require.NoError(t, outbox.Enqueue(ctx, "order.settled.v1", o.ID, []byte(`{"orderId":"ord-1"}`)))
	require.NoError(t, outbox.Enqueue(ctx, "order.settled.v1", o.ID, []byte(`{"orderId":"ord-1"}`)))

	msgs, err := outbox.FetchDue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, outbox.MarkRetry(ctx, msgs[0].ID, time.Now().Add(time.Hour)))
	msgs, err = outbox.FetchDue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
