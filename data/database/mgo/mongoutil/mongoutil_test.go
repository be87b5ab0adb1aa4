package mongoutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestValidateBuildsURIFromAddress(t *testing.T) {
	c := &Config{Address: []string{"db1:27017", "db2:27017"}, Database: "bridge", Username: "u", Password: "p"}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, "mongodb://u:p@db1:27017,db2:27017/bridge?authSource=bridge&maxPoolSize=100", c.Uri)
	assert.Equal(t, defaultCollection, c.Collection)
	assert.Equal(t, defaultMaxRetry, c.MaxRetry)
}

func TestValidateWithoutCredentials(t *testing.T) {
	c := &Config{Address: []string{"localhost:27017"}, Database: "bridge", AuthSource: "admin", MaxPoolSize: 5}
	require.NoError(t, c.ValidateAndSetDefaults())
	assert.Equal(t, "mongodb://localhost:27017/bridge?authSource=admin&maxPoolSize=5", c.Uri)
}

func TestValidateRejectsIncomplete(t *testing.T) {
	assert.Error(t, (&Config{Database: "bridge"}).ValidateAndSetDefaults())
	assert.Error(t, (&Config{Uri: "mongodb://localhost"}).ValidateAndSetDefaults())
}

func TestShouldRetry(t *testing.T) {
	ctx := context.Background()
	assert.False(t, shouldRetry(ctx, mongo.CommandError{Code: 18}))
	assert.True(t, shouldRetry(ctx, mongo.CommandError{Code: 91}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, shouldRetry(cancelled, mongo.CommandError{Code: 91}))
}
