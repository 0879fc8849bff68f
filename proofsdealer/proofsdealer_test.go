// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proofsdealer

import (
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/kv"
	"github.com/storagehub/hub/providers"
	"github.com/storagehub/hub/randomness"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RandomChallengesPerTick = 2
	cfg.MaxCustomChallengesPerCheckpoint = 4
	cfg.CheckpointChallengePeriod = 10
	cfg.ChallengeHistoryLength = 30
	cfg.ChallengeTicksTolerance = 3
	cfg.MinChallengePeriod = 4
	cfg.StakeToChallengePeriod = 100 // stake 10 -> period 10
	cfg.MaxSlashableProvidersPerTick = 10
	cfg.MaxSubmittersPerTick = 5
	cfg.TargetTicksStorageOfSubmitters = 15
	cfg.ChallengesQueueLength = 8
	cfg.PriorityChallengesQueueLength = 4
	cfg.BlockFullnessPeriod = 10
	cfg.SlashAmount = 5
	return cfg
}

type testEnv struct {
	t        *testing.T
	dealer   *ProofsDealer
	registry *providers.Registry
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	store := kv.NewMem()
	t.Cleanup(func() { store.Close() })

	registry := providers.NewRegistry(store)
	dealer, err := New(cfg, store, registry, randomness.Fixed{Salt: []byte("test")})
	require.NoError(t, err)
	t.Cleanup(dealer.Close)

	return &testEnv{t: t, dealer: dealer, registry: registry}
}

func (e *testEnv) register(seed byte, stake int64, root hub.Bytes32) hub.Bytes32 {
	id := hub.Blake2b([]byte{seed})
	require.NoError(e.t, e.registry.Register(&providers.Provider{
		ID:    id,
		Owner: hub.BytesToAddress([]byte{seed}),
		Stake: big.NewInt(stake),
		Root:  root,
	}))
	return id
}

func (e *testEnv) advanceTo(tick uint32) {
	for {
		now, err := e.dealer.CurrentTick()
		require.NoError(e.t, err)
		if now >= tick {
			return
		}
		require.NoError(e.t, e.dealer.AdvanceTick())
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Nil(t, cfg.Validate())

	bad := cfg
	bad.CheckpointChallengePeriod = bad.MinChallengePeriod - 1
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.StakeToChallengePeriod = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.ChallengeHistoryLength = bad.ChallengeTicksTolerance
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.TickWeightHeadroom = bad.MaxTickWeight + 1
	assert.Error(t, bad.Validate())
}

func TestChallengePeriod(t *testing.T) {
	env := newTestEnv(t, testConfig())

	period, err := env.dealer.ChallengePeriod(big.NewInt(10))
	assert.Nil(t, err)
	assert.Equal(t, uint32(10), period)

	// High stake saturates at the floor.
	period, err = env.dealer.ChallengePeriod(big.NewInt(1000))
	assert.Nil(t, err)
	assert.Equal(t, uint32(4), period)

	// Low stake stretches the period.
	period, err = env.dealer.ChallengePeriod(big.NewInt(2))
	assert.Nil(t, err)
	assert.Equal(t, uint32(50), period)

	_, err = env.dealer.ChallengePeriod(big.NewInt(0))
	assert.True(t, errors.Is(err, ErrZeroStake))
	_, err = env.dealer.ChallengePeriod(nil)
	assert.True(t, errors.Is(err, ErrZeroStake))
}

func TestRandomKeysDeterministic(t *testing.T) {
	seed := hub.Blake2b([]byte("seed"))
	k1 := randomKeys(seed, 7, 5)
	k2 := randomKeys(seed, 7, 5)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 5)

	// Distinct across ticks and indices.
	k3 := randomKeys(seed, 8, 5)
	assert.NotEqual(t, k1, k3)
	seen := make(map[hub.Bytes32]bool)
	for _, k := range append(k1, k3...) {
		assert.False(t, seen[k])
		seen[k] = true
	}
}

func TestMergeChallenges(t *testing.T) {
	a := hub.Blake2b([]byte("a"))
	b := hub.Blake2b([]byte("b"))
	c := hub.Blake2b([]byte("c"))

	merged := mergeChallenges(
		[]hub.Bytes32{a, b, a},
		[]CustomChallenge{{Key: b, ShouldRemoveKey: true}, {Key: c}},
	)
	assert.Equal(t, []Challenge{
		{Key: a, Count: 2},
		{Key: b, Count: 2, ShouldRemove: true},
		{Key: c, Count: 1},
	}, merged)
}

func TestInitialiseChallengeCycle(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id := env.register(1, 10, hub.Blake2b([]byte("root")))

	require.NoError(t, env.dealer.InitialiseChallengeCycle(id))

	rec, err := env.dealer.Record(id)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), rec.LastTickProven)
	assert.Equal(t, uint32(10), rec.NextTick)

	deadline, ok, err := env.dealer.ScheduledDeadline(id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(10), deadline)

	// Unknown provider.
	err = env.dealer.InitialiseChallengeCycle(hub.Blake2b([]byte("nobody")))
	assert.True(t, errors.Is(err, ErrProviderStakeNotFound))
}

func TestReinitialiseIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id := env.register(1, 10, hub.Blake2b([]byte("root")))

	require.NoError(t, env.dealer.InitialiseChallengeCycle(id))
	env.advanceTo(3)
	require.NoError(t, env.dealer.InitialiseChallengeCycle(id))

	rec, err := env.dealer.Record(id)
	require.NoError(t, err)
	assert.Equal(t, uint32(13), rec.NextTick)

	// Exactly one deadline index entry remains.
	var entries int
	require.NoError(t, env.dealer.store.deadlinesIn(0, 1000, func(deadline uint32, got hub.Bytes32) bool {
		entries++
		assert.Equal(t, id, got)
		assert.Equal(t, uint32(13), deadline)
		return true
	}))
	assert.Equal(t, 1, entries)
}

func TestStopChallengeCycle(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id := env.register(1, 10, hub.Blake2b([]byte("root")))

	require.NoError(t, env.dealer.InitialiseChallengeCycle(id))
	require.NoError(t, env.dealer.StopChallengeCycle(id))

	_, err := env.dealer.Record(id)
	assert.True(t, errors.Is(err, ErrNoRecordOfLastSubmittedProof))
	_, ok, err := env.dealer.ScheduledDeadline(id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOverdueProviderMarkedSlashable(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id := env.register(1, 10, hub.Blake2b([]byte("root")))

	env.advanceTo(100)
	require.NoError(t, env.dealer.InitialiseChallengeCycle(id))

	// Deadline 110. The tick window must fully elapse first.
	env.advanceTo(110)
	slashable, _, err := env.dealer.IsSlashable(id)
	require.NoError(t, err)
	assert.False(t, slashable)

	env.advanceTo(111)
	slashable, missed, err := env.dealer.IsSlashable(id)
	require.NoError(t, err)
	assert.True(t, slashable)
	assert.Equal(t, uint32(110), missed)

	// Deadline pushed one period, last tick proven untouched.
	rec, err := env.dealer.Record(id)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), rec.LastTickProven)
	assert.Equal(t, uint32(120), rec.NextTick)

	deadline, ok, err := env.dealer.ScheduledDeadline(id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(120), deadline)
}

func TestBoundedSlashingThroughput(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSlashableProvidersPerTick = 2
	env := newTestEnv(t, cfg)

	var ids []hub.Bytes32
	for i := byte(1); i <= 5; i++ {
		id := env.register(i, 10, hub.Blake2b([]byte{'r', i}))
		require.NoError(t, env.dealer.InitialiseChallengeCycle(id))
		ids = append(ids, id)
	}

	counts := make(map[uint32]int)
	for tick := uint32(10); tick <= 14; tick++ {
		env.advanceTo(tick)
		all, err := env.dealer.SlashableProviders()
		require.NoError(t, err)
		counts[tick] = len(all)
	}
	assert.Equal(t, 0, counts[10])
	assert.Equal(t, 2, counts[11])
	assert.Equal(t, 4, counts[12])
	assert.Equal(t, 5, counts[13])

	all, err := env.dealer.SlashableProviders()
	require.NoError(t, err)
	for _, id := range ids {
		missed, ok := all[id]
		assert.True(t, ok)
		assert.Equal(t, uint32(10), missed)
	}
}

func TestSlashExecution(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id := env.register(1, 10, hub.Blake2b([]byte("root")))
	require.NoError(t, env.dealer.InitialiseChallengeCycle(id))
	env.advanceTo(11)

	remaining, err := env.dealer.Slash(id)
	require.NoError(t, err)
	assert.Equal(t, int64(5), remaining.Int64())

	slashable, _, err := env.dealer.IsSlashable(id)
	require.NoError(t, err)
	assert.False(t, slashable)

	_, err = env.dealer.Slash(id)
	assert.True(t, errors.Is(err, ErrNotSlashable))

	treasury, err := env.registry.TreasuryBalance()
	require.NoError(t, err)
	assert.Equal(t, int64(5), treasury.Int64())
}

func TestSubmitToleranceWindow(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id := env.register(1, 10, hub.Blake2b([]byte("root")))
	env.advanceTo(30)

	craft := func(last, next uint32) {
		require.NoError(t, env.dealer.store.saveRecord(id, &SubmissionRecord{
			LastTickProven: last,
			NextTick:       next,
		}))
	}

	craft(30, 40) // 10 ticks ahead, tolerance 3
	err := env.dealer.SubmitProof(id, &Proof{})
	assert.True(t, errors.Is(err, ErrChallengesTickTooLate))

	craft(22, 32)
	err = env.dealer.SubmitProof(id, &Proof{})
	assert.True(t, errors.Is(err, ErrChallengesTickNotReached))

	craft(10, 20) // 10 ticks late
	err = env.dealer.SubmitProof(id, &Proof{})
	assert.True(t, errors.Is(err, ErrChallengesTickTooOld))

	// Within tolerance the submission passes timing and fails on content.
	craft(21, 28)
	err = env.dealer.SubmitProof(id, &Proof{})
	assert.True(t, errors.Is(err, ErrEmptyKeyProofs))

	// Unknown provider and missing record.
	err = env.dealer.SubmitProof(hub.Blake2b([]byte("nobody")), &Proof{})
	assert.True(t, errors.Is(err, ErrNotProvider))
	other := env.register(2, 10, hub.Blake2b([]byte("root2")))
	err = env.dealer.SubmitProof(other, &Proof{})
	assert.True(t, errors.Is(err, ErrNoRecordOfLastSubmittedProof))
}

func TestHistoryPruning(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id := env.register(1, 10, hub.Blake2b([]byte("root")))
	env.advanceTo(40) // history length 30, floor at 10

	_, ok, err := env.dealer.store.seed(9)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = env.dealer.store.seed(10)
	require.NoError(t, err)
	assert.True(t, ok)

	// A record pointing at a pruned seed is rejected.
	require.NoError(t, env.dealer.store.saveRecord(id, &SubmissionRecord{LastTickProven: 0, NextTick: 5}))
	_, err = env.dealer.ExpectedChallenges(id)
	assert.True(t, errors.Is(err, ErrSeedNotFound))

	// A checkpoint round that existed in the window but is gone is reported
	// as pruned. Checkpoint rounds run at ticks 10, 20, 30, 40 here.
	require.NoError(t, env.dealer.store.deleteCheckpointChallenges(40))
	require.NoError(t, env.dealer.store.saveRecord(id, &SubmissionRecord{LastTickProven: 35, NextTick: 40}))
	_, err = env.dealer.ExpectedChallenges(id)
	assert.True(t, errors.Is(err, ErrCheckpointChallengesNotFound))
}

func TestExpectedChallengesDeterministic(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id := env.register(1, 10, hub.Blake2b([]byte("root")))
	require.NoError(t, env.dealer.InitialiseChallengeCycle(id))
	env.advanceTo(10)

	c1, err := env.dealer.ExpectedChallenges(id)
	require.NoError(t, err)
	c2, err := env.dealer.ExpectedChallenges(id)
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
	assert.Len(t, c1, 2)
}

func TestChallengesForTick(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.advanceTo(5)

	challenges, err := env.dealer.ChallengesForTick(5)
	require.NoError(t, err)
	assert.Len(t, challenges, 2)
	for _, ch := range challenges {
		assert.Equal(t, uint32(1), ch.Count)
		assert.False(t, ch.ShouldRemove)
	}

	// Future ticks have no seed yet.
	_, err = env.dealer.ChallengesForTick(6)
	assert.ErrorIs(t, err, ErrSeedNotFound)

	// Checkpoint ticks fold queued challenges in. Providers queue for free.
	key := hub.Blake2b([]byte("custom"))
	env.register(9, 10, hub.Blake2b([]byte("root")))
	require.NoError(t, env.dealer.QueuePriorityChallenge(hub.BytesToAddress([]byte{9}), key, true))
	env.advanceTo(10)

	challenges, err = env.dealer.ChallengesForTick(10)
	require.NoError(t, err)
	found := false
	for _, ch := range challenges {
		if ch.Key == key {
			found = true
			assert.True(t, ch.ShouldRemove)
		}
	}
	assert.True(t, found)
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id := env.register(1, 10, hub.Blake2b([]byte("root")))
	require.NoError(t, env.dealer.InitialiseChallengeCycle(id))
	env.advanceTo(5)

	require.NoError(t, env.dealer.SetPaused(true))
	for iter := 0; iter < 20; iter++ {
		require.NoError(t, env.dealer.AdvanceTick())
	}
	now, err := env.dealer.CurrentTick()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), now)

	require.NoError(t, env.dealer.SetPaused(false))
	env.advanceTo(11)
	slashable, _, err := env.dealer.IsSlashable(id)
	require.NoError(t, err)
	assert.True(t, slashable)
}

func TestQueueChallengesAndFees(t *testing.T) {
	env := newTestEnv(t, testConfig())

	alice := hub.BytesToAddress([]byte("alice"))
	require.NoError(t, env.registry.Deposit(alice, big.NewInt(10_000)))

	key := hub.Blake2b([]byte("key"))
	require.NoError(t, env.dealer.QueueChallenge(alice, key))
	require.NoError(t, env.dealer.QueuePriorityChallenge(alice, key, true))

	treasury, err := env.registry.TreasuryBalance()
	require.NoError(t, err)
	assert.Equal(t, int64(100+1000), treasury.Int64())

	// Broke callers are rejected without touching the queue.
	bob := hub.BytesToAddress([]byte("bob"))
	err = env.dealer.QueueChallenge(bob, key)
	assert.True(t, errors.Is(err, providers.ErrInsufficientBalance))
	queue, err := env.dealer.store.challengesQueue()
	require.NoError(t, err)
	assert.Len(t, queue, 1)

	// Provider owners are exempt.
	env.register(1, 10, hub.Blake2b([]byte("root")))
	owner := hub.BytesToAddress([]byte{1})
	require.NoError(t, env.dealer.QueueChallenge(owner, key))
	after, err := env.registry.TreasuryBalance()
	require.NoError(t, err)
	assert.Equal(t, treasury, after)
}

func TestQueueOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.ChallengesQueueLength = 2
	cfg.PriorityChallengesQueueLength = 1
	cfg.ChallengesFee = 0
	cfg.PriorityChallengesFee = 0
	env := newTestEnv(t, cfg)

	who := hub.BytesToAddress([]byte("who"))
	require.NoError(t, env.dealer.QueueChallenge(who, hub.Blake2b([]byte("k1"))))
	require.NoError(t, env.dealer.QueueChallenge(who, hub.Blake2b([]byte("k2"))))
	err := env.dealer.QueueChallenge(who, hub.Blake2b([]byte("k3")))
	assert.True(t, errors.Is(err, ErrChallengesQueueOverflow))

	require.NoError(t, env.dealer.QueuePriorityChallenge(who, hub.Blake2b([]byte("p1")), false))
	err = env.dealer.QueuePriorityChallenge(who, hub.Blake2b([]byte("p2")), false)
	assert.True(t, errors.Is(err, ErrPriorityChallengesQueueOverflow))
}

func TestCheckpointDrainsPriorityFirst(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCustomChallengesPerCheckpoint = 3
	cfg.ChallengesFee = 0
	cfg.PriorityChallengesFee = 0
	env := newTestEnv(t, cfg)

	who := hub.BytesToAddress([]byte("who"))
	r1, r2 := hub.Blake2b([]byte("r1")), hub.Blake2b([]byte("r2"))
	p1, p2 := hub.Blake2b([]byte("p1")), hub.Blake2b([]byte("p2"))
	require.NoError(t, env.dealer.QueueChallenge(who, r1))
	require.NoError(t, env.dealer.QueueChallenge(who, r2))
	require.NoError(t, env.dealer.QueuePriorityChallenge(who, p1, true))
	require.NoError(t, env.dealer.QueuePriorityChallenge(who, p2, false))

	env.advanceTo(10) // first checkpoint round

	challenges, ok, err := env.dealer.store.checkpointChallenges(10)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []CustomChallenge{
		{Key: p1, ShouldRemoveKey: true},
		{Key: p2},
		{Key: r1},
	}, challenges)

	// The overflow entry waits for the next round.
	queue, err := env.dealer.store.challengesQueue()
	require.NoError(t, err)
	assert.Equal(t, []hub.Bytes32{r2}, queue)

	env.advanceTo(20)
	challenges, ok, err = env.dealer.store.checkpointChallenges(20)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []CustomChallenge{{Key: r2}}, challenges)
}

func TestEventFeedCarriesMixedTypes(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id := env.register(1, 10, hub.Blake2b([]byte("root")))

	// Different event types flow through the feed before anyone subscribes.
	require.NoError(t, env.dealer.InitialiseChallengeCycle(id))
	require.NoError(t, env.dealer.AdvanceTick())

	ch := make(chan Event, 64)
	sub := env.dealer.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	require.NoError(t, env.dealer.InitialiseChallengeCycle(id))
	require.NoError(t, env.dealer.AdvanceTick())
	require.NoError(t, env.dealer.SetPaused(true))

	var gotInit, gotSeed, gotTicker bool
	for len(ch) > 0 {
		switch ev := (<-ch).Data.(type) {
		case NewChallengeCycleInitialisedEvent:
			gotInit = true
			assert.Equal(t, id, ev.Provider)
		case NewChallengeSeedEvent:
			gotSeed = true
		case ChallengesTickerSetEvent:
			gotTicker = true
			assert.True(t, ev.Paused)
		}
	}
	assert.True(t, gotInit)
	assert.True(t, gotSeed)
	assert.True(t, gotTicker)
}

func TestStaleDeadlineEntryEmitsNoRecordEvent(t *testing.T) {
	env := newTestEnv(t, testConfig())

	ch := make(chan Event, 64)
	sub := env.dealer.SubscribeEvents(ch)
	defer sub.Unsubscribe()

	ghost := hub.Blake2b([]byte("ghost"))
	require.NoError(t, env.dealer.store.scheduleDeadline(ghost, 2))
	env.advanceTo(5)

	var seen bool
	for len(ch) > 0 {
		if ev, ok := (<-ch).Data.(NoRecordOfLastSubmittedProofEvent); ok {
			seen = true
			assert.Equal(t, ghost, ev.Provider)
		}
	}
	assert.True(t, seen)

	_, ok, err := env.dealer.ScheduledDeadline(ghost)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNetworkPresumablyUnderAttack(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTickWeight = 1500
	cfg.TickWeightHeadroom = 1000
	cfg.ChallengesFee = 0
	cfg.ChallengesQueueLength = 100
	env := newTestEnv(t, cfg)

	who := hub.BytesToAddress([]byte("who"))

	// Pack every tick beyond the headroom threshold.
	for i := 0; i < 10; i++ {
		require.NoError(t, env.dealer.QueueChallenge(who, hub.Blake2b([]byte{byte(i)})))
		require.NoError(t, env.dealer.AdvanceTick())
	}
	attack, err := env.dealer.NetworkPresumablyUnderAttack()
	require.NoError(t, err)
	assert.True(t, attack)

	// Quiet ticks clear the signal as the window rolls over.
	for iter := 0; iter < 10; iter++ {
		require.NoError(t, env.dealer.AdvanceTick())
	}
	attack, err = env.dealer.NetworkPresumablyUnderAttack()
	require.NoError(t, err)
	assert.False(t, attack)
}

func TestValidSubmittersRetention(t *testing.T) {
	env := newTestEnv(t, testConfig())
	id := hub.Blake2b([]byte("sub"))

	require.NoError(t, env.dealer.store.saveValidSubmitters(1, []hub.Bytes32{id}))
	env.advanceTo(10)
	subs, err := env.dealer.ValidSubmitters(1)
	require.NoError(t, err)
	assert.Equal(t, []hub.Bytes32{id}, subs)

	// Retention is 15 ticks.
	env.advanceTo(20)
	subs, err = env.dealer.ValidSubmitters(1)
	require.NoError(t, err)
	assert.Empty(t, subs)
}
