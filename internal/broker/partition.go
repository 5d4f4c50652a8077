package broker

import "github.com/segmentio/kafka-go"

// Partition returns the partition key is routed to among n partitions. Both
// drivers hash keys with murmur2, so the result matches the Java client.
func Partition(key []byte, n int) int {
	if n <= 0 {
		return 0
	}
	partitions := make([]int, n)
	for i := range partitions {
		partitions[i] = i
	}
	return kafka.Murmur2Balancer{Consistent: true}.Balance(kafka.Message{Key: key}, partitions...)
}
