package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("ingest: %w", Clone(ErrSchema, "missing column: Crawl time utc"))

	assert.True(t, Is(err, ErrSchema))
	assert.False(t, Is(err, ErrInput))
	assert.False(t, Is(nil, ErrSchema))
}

func TestIsFindsNestedTypedError(t *testing.T) {
	inner := Wrap(fmt.Errorf("smtp: 550"), ErrSend.Code, ErrSend.Status, "send notice")
	outer := Wrap(inner, ErrInternal.Code, ErrInternal.Status, "dispatch")

	assert.True(t, Is(outer, ErrSend))
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	err := FromError(fmt.Errorf("boom"))

	assert.Equal(t, ErrInternal.Code, err.Code)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.Nil(t, FromError(nil))
}

func TestCloneKeepsCode(t *testing.T) {
	clone := Clone(ErrInput, "batch is empty")

	assert.Equal(t, ErrInput.Code, clone.Code)
	assert.Equal(t, "batch is empty", clone.Error())
	assert.Equal(t, "invalid crawl batch", ErrInput.Message)
}
