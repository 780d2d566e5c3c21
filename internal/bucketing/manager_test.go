package bucketing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAccountBucket_StableAndInRange(t *testing.T) {
	bm := NewBucketingManager(64)

	seen := map[int]bool{}
	for i := 0; i < 1000; i++ {
		id := uuid.NewString()
		b := bm.AccountBucket(id)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 64)
		assert.Equal(t, b, bm.AccountBucket(id))
		seen[b] = true
	}
	assert.Greater(t, len(seen), 32, "ids should spread over most buckets")
}

func TestNewBucketingManager_NonPositive(t *testing.T) {
	bm := NewBucketingManager(0)
	assert.Equal(t, 1, bm.Buckets())
	assert.Equal(t, 0, bm.AccountBucket("anything"))
}
