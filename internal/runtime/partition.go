package runtime

import "hash/fnv"

// Partition maps an arbitrary string key onto one of n partitions using
// FNV-1a. Deterministic across processes so every node routes a key to the
// same owner.
func Partition(key string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// ShardOf maps a numeric customer id onto a shipment shard. Customer ids are
// already uniformly assigned, so a plain mod keeps the routing readable and
// lets tests predict placement.
func ShardOf(customerID, shards int) int {
	if shards <= 1 {
		return 0
	}
	if customerID < 0 {
		customerID = -customerID
	}
	return customerID % shards
}
