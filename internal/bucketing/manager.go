package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// BucketingManager spreads account rows across a fixed number of partitions.
// The bucket is derived from the account id, so it never changes.
type BucketingManager struct {
	accountBuckets int
	hasherPool     sync.Pool
}

func NewBucketingManager(accountBuckets int) *BucketingManager {
	if accountBuckets <= 0 {
		accountBuckets = 1
	}
	bm := &BucketingManager{accountBuckets: accountBuckets}

	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return bm
}

// AccountBucket returns a bucket in [0, accountBuckets).
func (bm *BucketingManager) AccountBucket(accountID string) int {
	return int(bm.getHash(accountID) % uint64(bm.accountBuckets))
}

func (bm *BucketingManager) Buckets() int {
	return bm.accountBuckets
}

func (bm *BucketingManager) getHash(key string) uint64 {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
