package broker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartition_DeterministicAndInRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("20240101_%07d", i))
		p := Partition(key, 6)
		assert.GreaterOrEqual(t, p, 0)
		assert.Less(t, p, 6)
		assert.Equal(t, p, Partition(key, 6), "same key must route to the same partition")
	}
}

func TestPartition_SinglePartition(t *testing.T) {
	assert.Equal(t, 0, Partition([]byte("anything"), 1))
	assert.Equal(t, 0, Partition([]byte("anything"), 0))
}
