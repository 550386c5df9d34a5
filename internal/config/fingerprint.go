package config

import (
	"encoding/json"
	"hash/fnv"
)

// fingerprint identifies a config by content so reloads that change
// nothing (a touch, an editor rewrite) can be skipped. Warnings are
// excluded from the JSON form and never affect it.
func fingerprint(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	h := fnv.New64a()
	if err := json.NewEncoder(h).Encode(cfg); err != nil {
		return 0
	}
	return h.Sum64()
}
