package alert

import (
	"strconv"
	"strings"
)

// Category 设备所在位置的类别
type Category string

const (
	CategoryUnknown     Category = ""
	CategoryCabinet     Category = "cabinet"     // 低压柜, 位置段以 lv 开头
	CategoryTransformer Category = "transformer" // 变压器, 位置段以 tr 开头
)

// Position 解析后的位置标签
type Position struct {
	Raw      string
	Rack     string // 第一个 '_' 之前的部分, 只有一段时为空
	Segment  string // 最后一个 '_' 之后的部分
	Category Category
	Slot     int // Segment 末尾的数字, 没有时为 -1
}

// ParsePosition 解析位置标签
//
// 输入:
//   - tag: 例如 "rack-0_lv-1"
//
// 输出:
//   - Position: 最后一段为 "lv-1", 类别 cabinet, 槽位 1
func ParsePosition(tag string) Position {
	parts := strings.Split(tag, "_")
	pos := Position{
		Raw:     tag,
		Segment: parts[len(parts)-1],
		Slot:    -1,
	}
	if len(parts) > 1 {
		pos.Rack = parts[0]
	}
	switch {
	case strings.HasPrefix(pos.Segment, "lv"):
		pos.Category = CategoryCabinet
	case strings.HasPrefix(pos.Segment, "tr"):
		pos.Category = CategoryTransformer
	}

	i := len(pos.Segment)
	for i > 0 && pos.Segment[i-1] >= '0' && pos.Segment[i-1] <= '9' {
		i--
	}
	if i < len(pos.Segment) {
		if slot, err := strconv.Atoi(pos.Segment[i:]); err == nil {
			pos.Slot = slot
		}
	}
	return pos
}

// ParseCategory 接受 lv/tr 前缀或完整类别名, 空字符串表示任意类别
func ParseCategory(s string) (Category, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return CategoryUnknown, true
	case "lv", string(CategoryCabinet):
		return CategoryCabinet, true
	case "tr", string(CategoryTransformer):
		return CategoryTransformer, true
	default:
		return CategoryUnknown, false
	}
}
