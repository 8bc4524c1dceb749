package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-backend/internal/emotion"
	"plant-backend/internal/metrics"
	"plant-backend/internal/ml"
)

func newTestRetrainService(repo *fakeRepo, store *memStore, holder *ml.GenerationHolder) *RetrainService {
	o := ml.NewOrchestrator(quickRetrainConfig(), store, holder, emotion.DefaultRules())
	return NewRetrainService(repo, store, o, holder, RetrainServiceConfig{})
}

func TestRetrainServiceInitEmptyStore(t *testing.T) {
	t.Parallel()

	holder := ml.NewGenerationHolder()
	rs := newTestRetrainService(newFakeRepo(), &memStore{}, holder)

	require.NoError(t, rs.Init(context.Background()))
	assert.Nil(t, holder.Current())
}

func TestRetrainServiceInitRestoresLatest(t *testing.T) {
	t.Parallel()

	gen := trainedGeneration(t)
	store := &memStore{gens: []*ml.Generation{gen}}
	holder := ml.NewGenerationHolder()
	rs := newTestRetrainService(newFakeRepo(), store, holder)

	require.NoError(t, rs.Init(context.Background()))
	assert.Same(t, gen, holder.Current())
}

func TestRetrainServiceInitMismatchIsFatal(t *testing.T) {
	t.Parallel()

	mismatch := &ml.ModelGenerationMismatchError{GenerationID: "g1", Reason: "missing classifier component"}
	holder := ml.NewGenerationHolder()
	rs := newTestRetrainService(newFakeRepo(), &memStore{loadErr: mismatch}, holder)

	err := rs.Init(context.Background())
	var target *ml.ModelGenerationMismatchError
	require.ErrorAs(t, err, &target)
	assert.Nil(t, holder.Current())
}

func TestRetrainServiceRunOnce(t *testing.T) {
	t.Parallel()

	store := &memStore{}
	holder := ml.NewGenerationHolder()
	rs := newTestRetrainService(newFakeRepo(dryingPlant("p1", 25)...), store, holder)

	gen, err := rs.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Same(t, gen, holder.Current())
	assert.Equal(t, int64(1), gen.Version)
	assert.Equal(t, 25, gen.Metadata.RecordCount)
}

func TestRetrainServiceInsufficientCorpusKeepsHolder(t *testing.T) {
	t.Parallel()

	previous := trainedGeneration(t)
	holder := ml.NewGenerationHolder()
	holder.Publish(previous)
	rs := newTestRetrainService(newFakeRepo(dryingPlant("p1", 5)...), &memStore{}, holder)

	_, err := rs.RunOnce(context.Background())
	var insufficient *ml.InsufficientCorpusError
	require.ErrorAs(t, err, &insufficient)
	assert.Same(t, previous, holder.Current())
}

// newerVersion returns a copy of gen stored as a later version
func newerVersion(gen *ml.Generation, version int64) *ml.Generation {
	next := *gen
	next.ID = gen.ID + "-next"
	next.Version = version
	return &next
}

func TestRetrainServiceRefreshPicksUpNewerGeneration(t *testing.T) {
	t.Parallel()

	current := trainedGeneration(t)
	holder := ml.NewGenerationHolder()
	holder.Publish(current)
	store := &memStore{gens: []*ml.Generation{current}}
	rs := newTestRetrainService(newFakeRepo(), store, holder)

	t.Run("same version keeps current", func(t *testing.T) {
		swapped, err := rs.Refresh(context.Background())
		require.NoError(t, err)
		assert.False(t, swapped)
		assert.Same(t, current, holder.Current())
	})

	// another process publishes a later generation to the shared store
	published := newerVersion(current, current.Version+1)
	store.mu.Lock()
	store.gens = append(store.gens, published)
	store.mu.Unlock()

	t.Run("newer version served", func(t *testing.T) {
		swapped, err := rs.Refresh(context.Background())
		require.NoError(t, err)
		assert.True(t, swapped)
		assert.Same(t, published, holder.Current())
	})
}

func TestRetrainServiceRefreshEmptyHolder(t *testing.T) {
	t.Parallel()

	gen := trainedGeneration(t)
	holder := ml.NewGenerationHolder()
	rs := newTestRetrainService(newFakeRepo(), &memStore{gens: []*ml.Generation{gen}}, holder)

	swapped, err := rs.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.Same(t, gen, holder.Current())

	empty := newTestRetrainService(newFakeRepo(), &memStore{}, ml.NewGenerationHolder())
	swapped, err = empty.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestRetrainServiceRefreshKeepsCurrentOnMismatch(t *testing.T) {
	t.Parallel()

	current := trainedGeneration(t)
	holder := ml.NewGenerationHolder()
	holder.Publish(current)
	mismatch := &ml.ModelGenerationMismatchError{GenerationID: "g9", Reason: "missing scaler component"}
	rs := newTestRetrainService(newFakeRepo(), &memStore{loadErr: mismatch}, holder)

	_, err := rs.Refresh(context.Background())
	var target *ml.ModelGenerationMismatchError
	require.ErrorAs(t, err, &target)
	assert.Same(t, current, holder.Current())
}

func TestRetrainServiceStartRefreshes(t *testing.T) {
	t.Parallel()

	current := trainedGeneration(t)
	holder := ml.NewGenerationHolder()
	holder.Publish(current)
	store := &memStore{gens: []*ml.Generation{current}}
	o := ml.NewOrchestrator(quickRetrainConfig(), store, holder, emotion.DefaultRules())
	rs := NewRetrainService(newFakeRepo(), store, o, holder, RetrainServiceConfig{
		Interval:        time.Hour,
		RefreshInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rs.Start(ctx)
		close(done)
	}()

	published := newerVersion(current, current.Version+1)
	store.mu.Lock()
	store.gens = append(store.gens, published)
	store.mu.Unlock()

	require.Eventually(t, func() bool { return holder.Current() == published }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestRetrainOutcome(t *testing.T) {
	t.Parallel()

	assert.Equal(t, metrics.OutcomeInsufficientCorpus, retrainOutcome(&ml.InsufficientCorpusError{Records: 3, MinRecords: 20}))
	assert.Equal(t, metrics.OutcomeBusy, retrainOutcome(ml.ErrRetrainInProgress))
	assert.Equal(t, metrics.OutcomeFailed, retrainOutcome(errors.New("boom")))
}
