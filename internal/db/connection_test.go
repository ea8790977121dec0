package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRejectsMalformedConnString(t *testing.T) {
	database, err := New(context.Background(), "://not-a-conn-string", 5)
	assert.Error(t, err)
	assert.Nil(t, database)
}
