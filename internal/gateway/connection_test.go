package gateway

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/novamarket/predictcore/internal/broadcast"
)

func TestIsUserTopic(t *testing.T) {
	assert.True(t, isUserTopic("user.abc.orders"))
	assert.False(t, isUserTopic("market.abc.book"))
	assert.False(t, isUserTopic("user"))
}

func TestAuthorizedForTopic(t *testing.T) {
	userID := uuid.New()
	other := uuid.New()
	c := &Connection{userID: userID}

	assert.True(t, c.authorizedFor(broadcast.MarketBookTopic(uuid.New())))
	assert.True(t, c.authorizedFor(broadcast.UserOrdersTopic(userID)))
	assert.True(t, c.authorizedFor(broadcast.UserBalanceTopic(userID)))
	assert.False(t, c.authorizedFor(broadcast.UserOrdersTopic(other)))
}
