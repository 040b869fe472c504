package cache

import (
	"cmp"
	"encoding/binary"
	"math"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// Hash spreads ordered keys over cache shards. Predeclared types are
// switched on directly; named types fall back to their underlying kind.
func Hash[K cmp.Ordered](key K) uint32 {
	switch k := any(key).(type) {
	case string:
		return fold(xxhash.Sum64String(k))
	case int:
		return hashBits(uint64(k))
	case int64:
		return hashBits(uint64(k))
	case int32:
		return hashBits(uint64(k))
	case uint64:
		return hashBits(k)
	case uint32:
		return hashBits(uint64(k))
	case uint:
		return hashBits(uint64(k))
	case float64:
		return hashFloat(k)
	}
	return hashKind(reflect.ValueOf(key))
}

func hashKind(v reflect.Value) uint32 {
	switch v.Kind() {
	case reflect.String:
		return fold(xxhash.Sum64String(v.String()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return hashBits(uint64(v.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return hashBits(v.Uint())
	case reflect.Float32, reflect.Float64:
		return hashFloat(v.Float())
	}
	return 0
}

func hashFloat(f float64) uint32 {
	if f == 0 {
		f = 0 // -0 and +0 are the same key
	}
	return hashBits(math.Float64bits(f))
}

func hashBits(bits uint64) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], bits)
	return fold(xxhash.Sum64(buf[:]))
}

func fold(h uint64) uint32 {
	return uint32(h) ^ uint32(h>>32)
}
