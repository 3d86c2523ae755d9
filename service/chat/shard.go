package chat

import "hash/fnv"

// shardCount sizes every sharded index in this package. Power of two so the
// modulo compiles to a mask.
const shardCount = 32

// shardIndex maps a key (user id, conn id, chatroom id) to its shard.
func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
