package faceindex

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/faceindex/aggstore"
	"github.com/hupe1980/faceindex/extractor"
	"github.com/hupe1980/faceindex/metastore"
	"github.com/hupe1980/faceindex/vectorindex"
)

func TestTranslateError(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		assert.NoError(t, translateError(nil))
	})

	t.Run("NotFoundUnification", func(t *testing.T) {
		assert.ErrorIs(t, translateError(metastore.ErrNotFound), ErrNotFound)
		assert.ErrorIs(t, translateError(vectorindex.ErrNotFound), ErrNotFound)
		assert.ErrorIs(t, translateError(fmt.Errorf("get: %w", metastore.ErrNotFound)), ErrNotFound)
	})

	t.Run("NoFace", func(t *testing.T) {
		err := translateError(extractor.ErrNoFace)
		assert.ErrorIs(t, err, ErrNoFaceDetected)
		assert.ErrorIs(t, err, extractor.ErrNoFace)
	})

	t.Run("VersionConflictKeepsSentinel", func(t *testing.T) {
		err := translateError(aggstore.ErrVersionConflict)
		assert.ErrorIs(t, err, aggstore.ErrVersionConflict)
	})

	t.Run("DeadlineIsTransient", func(t *testing.T) {
		var terr *TransientError
		err := translateError(fmt.Errorf("put: %w", context.DeadlineExceeded))
		assert.ErrorAs(t, err, &terr)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("CancellationIsNotTransient", func(t *testing.T) {
		var terr *TransientError
		err := translateError(context.Canceled)
		assert.False(t, errors.As(err, &terr))
	})

	t.Run("UnknownPassesThrough", func(t *testing.T) {
		boom := errors.New("boom")
		assert.Same(t, boom, translateError(boom))
	})
}

func TestPartialConsistencyError(t *testing.T) {
	cause := errors.New("write refused")
	err := &PartialConsistencyError{RecordID: "rec-1", Step: "vector index", cause: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "rec-1")
	assert.Contains(t, err.Error(), "vector index")
}
