package protocol

import "strings"

// Position 网格坐标（整数格）
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Dimensions 房间网格尺寸，宽高均 >= 1
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid 宽高是否合法
func (d Dimensions) Valid() bool {
	return d.Width >= 1 && d.Height >= 1
}

// Cells 网格总格数
func (d Dimensions) Cells() int {
	return d.Width * d.Height
}

// Contains 坐标是否落在 [0,width) x [0,height)
func (d Dimensions) Contains(p Position) bool {
	return p.X >= 0 && p.X < d.Width && p.Y >= 0 && p.Y < d.Height
}

// Adjacent 两点是否恰好相距一步（曼哈顿距离 1，不含对角）
func Adjacent(a, b Position) bool {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	return dx+dy == 1
}

// Direction 移动方向
type Direction int

const (
	DirNone Direction = iota
	DirUp
	DirDown
	DirLeft
	DirRight
)

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirDown:
		return "down"
	case DirLeft:
		return "left"
	case DirRight:
		return "right"
	default:
		return "none"
	}
}

// ParseDirection 解析 up/down/left/right（大小写不敏感），无法识别时返回 DirNone
func ParseDirection(s string) Direction {
	switch strings.ToLower(s) {
	case "up", "w":
		return DirUp
	case "down", "s":
		return DirDown
	case "left", "a":
		return DirLeft
	case "right", "d":
		return DirRight
	default:
		return DirNone
	}
}

// Step 返回朝 dir 走一格后的坐标；y 轴向下增长
func (p Position) Step(dir Direction) Position {
	switch dir {
	case DirUp:
		p.Y--
	case DirDown:
		p.Y++
	case DirLeft:
		p.X--
	case DirRight:
		p.X++
	}
	return p
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
