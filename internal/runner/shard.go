package runner

import "fmt"

// Shard keeps the IDs at positions i with i % shards == shard. shards <= 1
// returns ids unchanged.
func Shard(ids []int64, shard, shards int) ([]int64, error) {
	if shards <= 1 {
		return ids, nil
	}
	if shard < 0 || shard >= shards {
		return nil, fmt.Errorf("shard %d out of range [0, %d)", shard, shards)
	}
	out := make([]int64, 0, len(ids)/shards+1)
	for i := shard; i < len(ids); i += shards {
		out = append(out, ids[i])
	}
	return out, nil
}

// ShardSuffix names the artifact of one shard, counting from 1.
func ShardSuffix(shard, shards int) string {
	if shards <= 1 {
		return ""
	}
	return fmt.Sprintf("_shard%dof%d", shard+1, shards)
}
