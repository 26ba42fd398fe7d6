package adminrpc

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"gorm.io/gorm"

	"github.com/novamarket/predictcore/internal/book"
	"github.com/novamarket/predictcore/internal/broadcast"
	"github.com/novamarket/predictcore/internal/domain"
	"github.com/novamarket/predictcore/internal/ledger"
	"github.com/novamarket/predictcore/internal/money"
	"github.com/novamarket/predictcore/internal/settlement"
	"github.com/novamarket/predictcore/internal/testsupport"
)

func newTestService(t *testing.T) (*Service, *ledger.Store, *gorm.DB, uuid.UUID) {
	t.Helper()
	db, err := testsupport.NewSQLiteDB()
	require.NoError(t, err)

	store := ledger.NewStore(db, zap.NewNop(), money.Amount(100*money.AmountScale))
	registry := book.NewRegistry()
	bus := broadcast.NewGoChannelBus(zap.NewNop())
	settle, err := settlement.New(store, registry, bus, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(settle.Close)

	marketID := uuid.New()
	require.NoError(t, db.Create(&ledger.Market{
		ID: marketID, Question: "will it happen", Status: domain.MarketOpen, CreatedAt: time.Now(),
	}).Error)

	return NewService(settle, zap.NewNop()), store, db, marketID
}

func TestCloseThenResolveMarketThroughService(t *testing.T) {
	svc, store, db, marketID := newTestService(t)
	ctx := context.Background()

	closeReq, err := structpb.NewStruct(map[string]any{"market_id": marketID.String()})
	require.NoError(t, err)
	resp, err := svc.CloseMarket(ctx, closeReq)
	require.NoError(t, err)
	assert.Equal(t, "closed", resp.Fields["status"].GetStringValue())

	resolveReq, err := structpb.NewStruct(map[string]any{"market_id": marketID.String(), "outcome": "YES"})
	require.NoError(t, err)
	resp, err = svc.ResolveMarket(ctx, resolveReq)
	require.NoError(t, err)
	assert.Equal(t, "resolved", resp.Fields["status"].GetStringValue())

	m, err := store.GetMarket(db, marketID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketResolved, m.Status)
}

func TestResolveMarketRejectsBadUUID(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	req, err := structpb.NewStruct(map[string]any{"market_id": "not-a-uuid", "outcome": "YES"})
	require.NoError(t, err)

	_, err = svc.ResolveMarket(context.Background(), req)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
}

func TestResolveMarketRejectsBadOutcome(t *testing.T) {
	svc, _, _, marketID := newTestService(t)
	req, err := structpb.NewStruct(map[string]any{"market_id": marketID.String(), "outcome": "MAYBE"})
	require.NoError(t, err)

	_, err = svc.ResolveMarket(context.Background(), req)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
}

func TestResolveMarketOnUnknownMarketMapsToNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	req, err := structpb.NewStruct(map[string]any{"market_id": uuid.New().String(), "outcome": "YES"})
	require.NoError(t, err)

	_, err = svc.ResolveMarket(context.Background(), req)
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.NotFound, st.Code())
}
