package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// acquireEpochScript atomically reads the partition's current epoch and
// swaps in the new one, reporting whether the caller must wipe the
// partition sub-tree first (spec.md §4.5 "Epoch cleanup"). A wipe is
// required whenever the stored epoch does not match what this instance
// last recorded for the partition — including the common case of a brand
// new acquisition, where the remembered epoch is 0 and anything already
// stored indicates a stale prior owner.
//
// KEYS[1] = AGPARTS hash key
// ARGV[1] = partition field
// ARGV[2] = expected prior epoch (0 if none remembered)
// ARGV[3] = new epoch
// returns 1 if a wipe is required, else 0
var acquireEpochScript = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], ARGV[1])
local expected = ARGV[2]
local wipeRequired = 0
if current ~= false and current ~= expected then
    wipeRequired = 1
end
if current == false and expected ~= "0" then
    wipeRequired = 1
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[3])
return wipeRequired
`)

// AcquireEpoch performs the compare-and-swap step of partition acquisition
// (spec.md §4.5): it atomically checks the stored epoch against
// expectedPriorEpoch and installs newEpoch, reporting whether a full wipe of
// the partition's AGPARTKEYS/AGPARTVALUES sub-tree is required before new
// data may be written.
func (c *Client) AcquireEpoch(ctx context.Context, partition int, expectedPriorEpoch, newEpoch int64) (wipeRequired bool, err error) {
	result, err := acquireEpochScript.Run(ctx, c.client(), []string{partsKey(c.instance)},
		partitionField(partition), expectedPriorEpoch, newEpoch,
	).Int64()
	if err != nil {
		return false, fmt.Errorf("store: acquire epoch: %w", err)
	}
	return result == 1, nil
}

func partitionField(partition int) string {
	return fmt.Sprintf("%d", partition)
}
