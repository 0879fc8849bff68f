// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proofsdealer

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/rlp"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/storagehub/hub/hub"
	"github.com/storagehub/hub/kv"
)

var (
	recordsBucket    = kv.Bucket("dealer.r-") // provider id -> submission record
	seedsBucket      = kv.Bucket("dealer.s-") // tick -> seed
	checkpointBucket = kv.Bucket("dealer.c-") // tick -> checkpoint challenges
	deadlinesBucket  = kv.Bucket("dealer.d-") // tick || provider id -> nil
	scheduleBucket   = kv.Bucket("dealer.e-") // provider id -> scheduled deadline tick
	slashableBucket  = kv.Bucket("dealer.x-") // provider id -> missed deadline tick
	fullnessBucket   = kv.Bucket("dealer.f-") // tick -> full flag
	submittersBucket = kv.Bucket("dealer.v-") // tick -> valid submitter ids
	dealerMetaBucket = kv.Bucket("dealer.m-")
)

var (
	keyCurrentTick        = []byte("currentTick")
	keyLastCheckpointTick = []byte("lastCheckpointTick")
	keySlashingCursor     = []byte("slashingCursor")
	keyPaused             = []byte("paused")
	keyChallengesQueue    = []byte("challengesQueue")
	keyPriorityQueue      = []byte("priorityChallengesQueue")
)

const cacheSize = 256

// SubmissionRecord tracks one provider's proving cycle.
type SubmissionRecord struct {
	LastTickProven uint32 `json:"lastTickProven"`
	NextTick       uint32 `json:"nextTickToSubmitProofFor"`
}

// CustomChallenge is a manually queued challenge folded in at a checkpoint
// round. ShouldRemoveKey marks keys whose proven absence removes them from
// the provider's forest.
type CustomChallenge struct {
	Key             hub.Bytes32 `json:"key"`
	ShouldRemoveKey bool        `json:"shouldRemoveKey"`
}

func tickKey(tick uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], tick)
	return b[:]
}

// storage is the typed persistence layer of the dealer. All state lives in
// kv buckets so the whole cycle survives a restart.
type storage struct {
	records    kv.GetPutter
	seeds      kv.GetPutter
	checkpoint kv.GetPutter
	deadlines  kv.GetPutter
	schedule   kv.GetPutter
	slashable  kv.GetPutter
	fullness   kv.GetPutter
	submitters kv.GetPutter
	meta       kv.GetPutter

	seedCache       *lru.Cache
	checkpointCache *lru.Cache
}

func newStorage(store kv.GetPutter) *storage {
	seedCache, _ := lru.New(cacheSize)
	checkpointCache, _ := lru.New(cacheSize)
	return &storage{
		records:         recordsBucket.NewStore(store),
		seeds:           seedsBucket.NewStore(store),
		checkpoint:      checkpointBucket.NewStore(store),
		deadlines:       deadlinesBucket.NewStore(store),
		schedule:        scheduleBucket.NewStore(store),
		slashable:       slashableBucket.NewStore(store),
		fullness:        fullnessBucket.NewStore(store),
		submitters:      submittersBucket.NewStore(store),
		meta:            dealerMetaBucket.NewStore(store),
		seedCache:       seedCache,
		checkpointCache: checkpointCache,
	}
}

func (s *storage) metaU32(key []byte) (uint32, error) {
	data, err := s.meta.Get(key)
	if err != nil {
		if s.meta.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return binary.BigEndian.Uint32(data), nil
}

func (s *storage) saveMetaU32(key []byte, v uint32) error {
	return s.meta.Put(key, tickKey(v))
}

func (s *storage) currentTick() (uint32, error) {
	return s.metaU32(keyCurrentTick)
}

func (s *storage) saveCurrentTick(tick uint32) error {
	return s.saveMetaU32(keyCurrentTick, tick)
}

func (s *storage) lastCheckpointTick() (uint32, error) {
	return s.metaU32(keyLastCheckpointTick)
}

func (s *storage) saveLastCheckpointTick(tick uint32) error {
	return s.saveMetaU32(keyLastCheckpointTick, tick)
}

func (s *storage) slashingCursor() (uint32, error) {
	return s.metaU32(keySlashingCursor)
}

func (s *storage) saveSlashingCursor(tick uint32) error {
	return s.saveMetaU32(keySlashingCursor, tick)
}

func (s *storage) paused() (bool, error) {
	data, err := s.meta.Get(keyPaused)
	if err != nil {
		if s.meta.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return len(data) == 1 && data[0] == 1, nil
}

func (s *storage) savePaused(paused bool) error {
	v := []byte{0}
	if paused {
		v[0] = 1
	}
	return s.meta.Put(keyPaused, v)
}

func (s *storage) record(id hub.Bytes32) (*SubmissionRecord, error) {
	data, err := s.records.Get(id.Bytes())
	if err != nil {
		if s.records.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec SubmissionRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, errors.Wrap(err, "decode submission record")
	}
	return &rec, nil
}

func (s *storage) saveRecord(id hub.Bytes32, rec *SubmissionRecord) error {
	data, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return errors.Wrap(err, "encode submission record")
	}
	return s.records.Put(id.Bytes(), data)
}

func (s *storage) deleteRecord(id hub.Bytes32) error {
	return s.records.Delete(id.Bytes())
}

func (s *storage) seed(tick uint32) (hub.Bytes32, bool, error) {
	if v, ok := s.seedCache.Get(tick); ok {
		return v.(hub.Bytes32), true, nil
	}
	data, err := s.seeds.Get(tickKey(tick))
	if err != nil {
		if s.seeds.IsNotFound(err) {
			return hub.Bytes32{}, false, nil
		}
		return hub.Bytes32{}, false, err
	}
	seed := hub.BytesToBytes32(data)
	s.seedCache.Add(tick, seed)
	return seed, true, nil
}

func (s *storage) saveSeed(tick uint32, seed hub.Bytes32) error {
	if err := s.seeds.Put(tickKey(tick), seed.Bytes()); err != nil {
		return err
	}
	s.seedCache.Add(tick, seed)
	return nil
}

func (s *storage) deleteSeed(tick uint32) error {
	s.seedCache.Remove(tick)
	return s.seeds.Delete(tickKey(tick))
}

func (s *storage) checkpointChallenges(tick uint32) ([]CustomChallenge, bool, error) {
	if v, ok := s.checkpointCache.Get(tick); ok {
		return v.([]CustomChallenge), true, nil
	}
	data, err := s.checkpoint.Get(tickKey(tick))
	if err != nil {
		if s.checkpoint.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var challenges []CustomChallenge
	if err := rlp.DecodeBytes(data, &challenges); err != nil {
		return nil, false, errors.Wrap(err, "decode checkpoint challenges")
	}
	s.checkpointCache.Add(tick, challenges)
	return challenges, true, nil
}

func (s *storage) saveCheckpointChallenges(tick uint32, challenges []CustomChallenge) error {
	data, err := rlp.EncodeToBytes(challenges)
	if err != nil {
		return errors.Wrap(err, "encode checkpoint challenges")
	}
	if err := s.checkpoint.Put(tickKey(tick), data); err != nil {
		return err
	}
	s.checkpointCache.Add(tick, challenges)
	return nil
}

func (s *storage) deleteCheckpointChallenges(tick uint32) error {
	s.checkpointCache.Remove(tick)
	return s.checkpoint.Delete(tickKey(tick))
}

// latestCheckpointIn returns the persisted checkpoint round with the greatest
// tick in (from, to], if any.
func (s *storage) latestCheckpointIn(from, to uint32) (uint32, []CustomChallenge, bool, error) {
	if to < from {
		return 0, nil, false, nil
	}
	it := s.checkpoint.NewIterator(kv.Range{Start: tickKey(from + 1), Limit: tickKey(to + 1)})
	defer it.Release()

	var (
		found bool
		tick  uint32
		data  []byte
	)
	for it.Next() {
		found = true
		tick = binary.BigEndian.Uint32(it.Key())
		data = append(data[:0], it.Value()...)
	}
	if err := it.Error(); err != nil {
		return 0, nil, false, err
	}
	if !found {
		return 0, nil, false, nil
	}
	var challenges []CustomChallenge
	if err := rlp.DecodeBytes(data, &challenges); err != nil {
		return 0, nil, false, errors.Wrap(err, "decode checkpoint challenges")
	}
	return tick, challenges, true, nil
}

// scheduleDeadline moves a provider's deadline index entry to the given tick,
// keeping the invariant that a provider appears under at most one tick.
func (s *storage) scheduleDeadline(id hub.Bytes32, tick uint32) error {
	if err := s.clearDeadline(id); err != nil {
		return err
	}
	if err := s.deadlines.Put(append(tickKey(tick), id.Bytes()...), nil); err != nil {
		return err
	}
	return s.schedule.Put(id.Bytes(), tickKey(tick))
}

func (s *storage) clearDeadline(id hub.Bytes32) error {
	data, err := s.schedule.Get(id.Bytes())
	if err != nil {
		if s.schedule.IsNotFound(err) {
			return nil
		}
		return err
	}
	if err := s.deadlines.Delete(append(data, id.Bytes()...)); err != nil {
		return err
	}
	return s.schedule.Delete(id.Bytes())
}

func (s *storage) scheduledDeadline(id hub.Bytes32) (uint32, bool, error) {
	data, err := s.schedule.Get(id.Bytes())
	if err != nil {
		if s.schedule.IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return binary.BigEndian.Uint32(data), true, nil
}

// deadlinesIn streams providers whose deadline tick is in [from, to],
// oldest first, until visit returns false.
func (s *storage) deadlinesIn(from, to uint32, visit func(deadline uint32, id hub.Bytes32) bool) error {
	if to < from {
		return nil
	}
	it := s.deadlines.NewIterator(kv.Range{Start: tickKey(from), Limit: tickKey(to + 1)})
	defer it.Release()
	for it.Next() {
		key := it.Key()
		deadline := binary.BigEndian.Uint32(key[:4])
		id := hub.BytesToBytes32(key[4:])
		if !visit(deadline, id) {
			break
		}
	}
	return it.Error()
}

func (s *storage) saveSlashable(id hub.Bytes32, missedDeadline uint32) error {
	return s.slashable.Put(id.Bytes(), tickKey(missedDeadline))
}

func (s *storage) slashableDeadline(id hub.Bytes32) (uint32, bool, error) {
	data, err := s.slashable.Get(id.Bytes())
	if err != nil {
		if s.slashable.IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return binary.BigEndian.Uint32(data), true, nil
}

func (s *storage) deleteSlashable(id hub.Bytes32) error {
	return s.slashable.Delete(id.Bytes())
}

func (s *storage) slashableProviders() (map[hub.Bytes32]uint32, error) {
	out := make(map[hub.Bytes32]uint32)
	it := s.slashable.NewIterator(kv.Range{})
	defer it.Release()
	for it.Next() {
		out[hub.BytesToBytes32(it.Key())] = binary.BigEndian.Uint32(it.Value())
	}
	return out, it.Error()
}

func (s *storage) challengesQueue() ([]hub.Bytes32, error) {
	data, err := s.meta.Get(keyChallengesQueue)
	if err != nil {
		if s.meta.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var queue []hub.Bytes32
	if err := rlp.DecodeBytes(data, &queue); err != nil {
		return nil, errors.Wrap(err, "decode challenges queue")
	}
	return queue, nil
}

func (s *storage) saveChallengesQueue(queue []hub.Bytes32) error {
	data, err := rlp.EncodeToBytes(queue)
	if err != nil {
		return errors.Wrap(err, "encode challenges queue")
	}
	return s.meta.Put(keyChallengesQueue, data)
}

func (s *storage) priorityQueue() ([]CustomChallenge, error) {
	data, err := s.meta.Get(keyPriorityQueue)
	if err != nil {
		if s.meta.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var queue []CustomChallenge
	if err := rlp.DecodeBytes(data, &queue); err != nil {
		return nil, errors.Wrap(err, "decode priority challenges queue")
	}
	return queue, nil
}

func (s *storage) savePriorityQueue(queue []CustomChallenge) error {
	data, err := rlp.EncodeToBytes(queue)
	if err != nil {
		return errors.Wrap(err, "encode priority challenges queue")
	}
	return s.meta.Put(keyPriorityQueue, data)
}

func (s *storage) saveFullness(tick uint32, full bool) error {
	v := []byte{0}
	if full {
		v[0] = 1
	}
	return s.fullness.Put(tickKey(tick), v)
}

func (s *storage) fullnessAt(tick uint32) (full bool, ok bool, err error) {
	data, err := s.fullness.Get(tickKey(tick))
	if err != nil {
		if s.fullness.IsNotFound(err) {
			return false, false, nil
		}
		return false, false, err
	}
	return len(data) == 1 && data[0] == 1, true, nil
}

func (s *storage) deleteFullness(tick uint32) error {
	return s.fullness.Delete(tickKey(tick))
}

func (s *storage) validSubmitters(tick uint32) ([]hub.Bytes32, error) {
	data, err := s.submitters.Get(tickKey(tick))
	if err != nil {
		if s.submitters.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ids []hub.Bytes32
	if err := rlp.DecodeBytes(data, &ids); err != nil {
		return nil, errors.Wrap(err, "decode valid submitters")
	}
	return ids, nil
}

func (s *storage) saveValidSubmitters(tick uint32, ids []hub.Bytes32) error {
	data, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return errors.Wrap(err, "encode valid submitters")
	}
	return s.submitters.Put(tickKey(tick), data)
}

func (s *storage) deleteValidSubmitters(tick uint32) error {
	return s.submitters.Delete(tickKey(tick))
}

func ticksBefore(store kv.Getter, floor uint32) ([]uint32, error) {
	it := store.NewIterator(kv.Range{Limit: tickKey(floor)})
	defer it.Release()
	var ticks []uint32
	for it.Next() {
		ticks = append(ticks, binary.BigEndian.Uint32(it.Key()))
	}
	return ticks, it.Error()
}

// pruneHistory drops seeds and checkpoint challenges older than floor.
func (s *storage) pruneHistory(floor uint32) error {
	ticks, err := ticksBefore(s.seeds, floor)
	if err != nil {
		return err
	}
	for _, t := range ticks {
		if err := s.deleteSeed(t); err != nil {
			return err
		}
	}
	ticks, err = ticksBefore(s.checkpoint, floor)
	if err != nil {
		return err
	}
	for _, t := range ticks {
		if err := s.deleteCheckpointChallenges(t); err != nil {
			return err
		}
	}
	return nil
}

// pruneFullness drops fullness records older than floor.
func (s *storage) pruneFullness(floor uint32) error {
	ticks, err := ticksBefore(s.fullness, floor)
	if err != nil {
		return err
	}
	for _, t := range ticks {
		if err := s.deleteFullness(t); err != nil {
			return err
		}
	}
	return nil
}

// pruneSubmitters drops valid submitter lists older than floor.
func (s *storage) pruneSubmitters(floor uint32) error {
	ticks, err := ticksBefore(s.submitters, floor)
	if err != nil {
		return err
	}
	for _, t := range ticks {
		if err := s.deleteValidSubmitters(t); err != nil {
			return err
		}
	}
	return nil
}
