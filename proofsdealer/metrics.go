// Copyright (c) 2025 The StorageHub developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package proofsdealer

import "github.com/storagehub/hub/metrics"

var (
	metricsTicks           = metrics.LazyLoadCounter("proofsdealer_ticks_count")
	metricsProofsAccepted  = metrics.LazyLoadCounter("proofsdealer_proofs_accepted_count")
	metricsSlashableMarked = metrics.LazyLoadCounter("proofsdealer_slashable_marked_count")
	metricsSlashed         = metrics.LazyLoadCounter("proofsdealer_slashed_count")
)
