package seed

import (
	"fmt"
	"strconv"
	"strings"
)

// HardenedOffset 硬化索引偏移
const HardenedOffset uint32 = 0x80000000

// ParsePath 解析形如 m/44'/60'/0'/0/0 的派生路径
func ParsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("派生路径必须以 m 开头: %s", path)
	}

	indexes := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h")
		if hardened {
			part = part[:len(part)-1]
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("派生路径段无效 %q: %w", part, err)
		}
		if n >= uint64(HardenedOffset) {
			return nil, fmt.Errorf("派生路径段越界: %d", n)
		}
		idx := uint32(n)
		if hardened {
			idx += HardenedOffset
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}
