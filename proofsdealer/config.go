// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proofsdealer

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the protocol parameters of the proofs dealer.
type Config struct {
	// RandomChallengesPerTick is the number of random challenge keys derived
	// from every tick's seed.
	RandomChallengesPerTick uint32 `yaml:"randomChallengesPerTick"`
	// MaxCustomChallengesPerCheckpoint bounds how many queued challenges a
	// checkpoint round drains.
	MaxCustomChallengesPerCheckpoint uint32 `yaml:"maxCustomChallengesPerCheckpoint"`
	// CheckpointChallengePeriod is the minimum tick distance between two
	// checkpoint rounds. Must be >= MinChallengePeriod.
	CheckpointChallengePeriod uint32 `yaml:"checkpointChallengePeriod"`
	// ChallengeHistoryLength is how many ticks of seeds and checkpoint
	// challenges stay queryable before being pruned.
	ChallengeHistoryLength uint32 `yaml:"challengeHistoryLength"`
	// ChallengeTicksTolerance is how many ticks past its deadline a proof is
	// still accepted.
	ChallengeTicksTolerance uint32 `yaml:"challengeTicksTolerance"`
	// MinChallengePeriod floors the stake derived challenge period.
	MinChallengePeriod uint32 `yaml:"minChallengePeriod"`
	// StakeToChallengePeriod is divided by a provider's stake to derive its
	// challenge period.
	StakeToChallengePeriod uint64 `yaml:"stakeToChallengePeriod"`
	// MaxSlashableProvidersPerTick caps how many overdue providers a single
	// tick marks slashable. Excess is deferred to later ticks.
	MaxSlashableProvidersPerTick uint32 `yaml:"maxSlashableProvidersPerTick"`
	// MaxSubmittersPerTick caps the valid submitter list recorded per tick.
	MaxSubmittersPerTick uint32 `yaml:"maxSubmittersPerTick"`
	// TargetTicksStorageOfSubmitters is the retention window of per-tick
	// valid submitter lists.
	TargetTicksStorageOfSubmitters uint32 `yaml:"targetTicksStorageOfSubmitters"`
	// ChallengesQueueLength bounds the regular challenge queue.
	ChallengesQueueLength uint32 `yaml:"challengesQueueLength"`
	// PriorityChallengesQueueLength bounds the priority challenge queue.
	PriorityChallengesQueueLength uint32 `yaml:"priorityChallengesQueueLength"`
	// BlockFullnessPeriod is the rolling window, in ticks, the spam signal
	// looks back over.
	BlockFullnessPeriod uint32 `yaml:"blockFullnessPeriod"`
	// MinNotFullBlocksRatio is the fraction of not-full ticks below which the
	// network is presumed under attack.
	MinNotFullBlocksRatio float64 `yaml:"minNotFullBlocksRatio"`
	// MaxTickWeight is the weight budget of one tick.
	MaxTickWeight uint64 `yaml:"maxTickWeight"`
	// TickWeightHeadroom is the reserve that must stay free for a tick to
	// count as not full.
	TickWeightHeadroom uint64 `yaml:"tickWeightHeadroom"`
	// ChallengesFee is charged to non-provider callers queuing a challenge.
	ChallengesFee uint64 `yaml:"challengesFee"`
	// PriorityChallengesFee is charged to non-provider callers queuing a
	// priority challenge.
	PriorityChallengesFee uint64 `yaml:"priorityChallengesFee"`
	// SlashAmount is the stake deducted when a slash is executed.
	SlashAmount uint64 `yaml:"slashAmount"`
}

// DefaultConfig returns the default protocol parameters.
func DefaultConfig() Config {
	return Config{
		RandomChallengesPerTick:          10,
		MaxCustomChallengesPerCheckpoint: 10,
		CheckpointChallengePeriod:        10,
		ChallengeHistoryLength:           100,
		ChallengeTicksTolerance:          50,
		MinChallengePeriod:               4,
		StakeToChallengePeriod:           1000,
		MaxSlashableProvidersPerTick:     100,
		MaxSubmittersPerTick:             1000,
		TargetTicksStorageOfSubmitters:   40,
		ChallengesQueueLength:            500,
		PriorityChallengesQueueLength:    100,
		BlockFullnessPeriod:              50,
		MinNotFullBlocksRatio:            0.5,
		MaxTickWeight:                    1_000_000,
		TickWeightHeadroom:               100_000,
		ChallengesFee:                    100,
		PriorityChallengesFee:            1000,
		SlashAmount:                      10_000,
	}
}

// LoadConfig reads a yaml config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config file")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks parameter consistency.
func (c *Config) Validate() error {
	if c.MinChallengePeriod == 0 {
		return errors.New("minChallengePeriod must be positive")
	}
	// Otherwise a provider with the minimum period could never meet a
	// checkpoint deadline.
	if c.CheckpointChallengePeriod < c.MinChallengePeriod {
		return errors.New("checkpointChallengePeriod must be >= minChallengePeriod")
	}
	if c.StakeToChallengePeriod == 0 {
		return errors.New("stakeToChallengePeriod must be positive")
	}
	if c.ChallengeHistoryLength <= c.ChallengeTicksTolerance {
		return errors.New("challengeHistoryLength must exceed challengeTicksTolerance")
	}
	if c.MaxSlashableProvidersPerTick == 0 {
		return errors.New("maxSlashableProvidersPerTick must be positive")
	}
	if c.MinNotFullBlocksRatio < 0 || c.MinNotFullBlocksRatio > 1 {
		return errors.New("minNotFullBlocksRatio must be within [0, 1]")
	}
	if c.TickWeightHeadroom > c.MaxTickWeight {
		return errors.New("tickWeightHeadroom must not exceed maxTickWeight")
	}
	return nil
}
