package vec

import "fmt"

// Vec2 представляет целочисленные 2D координаты: клетку внутри комнаты
// или положение комнаты в сетке подземелья игрока.
type Vec2 struct {
	X int `json:"x" bson:"x"`
	Y int `json:"y" bson:"y"`
}

// Add возвращает сумму векторов
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub возвращает разность векторов
func (v Vec2) Sub(other Vec2) Vec2 {
	return Vec2{X: v.X - other.X, Y: v.Y - other.Y}
}

// InBounds проверяет, что точка лежит в прямоугольнике [0,width)x[0,height)
func (v Vec2) InBounds(width, height int) bool {
	return v.X >= 0 && v.X < width && v.Y >= 0 && v.Y < height
}

// OnBorder проверяет, что точка лежит на краю прямоугольника
func (v Vec2) OnBorder(width, height int) bool {
	if !v.InBounds(width, height) {
		return false
	}
	return v.X == 0 || v.Y == 0 || v.X == width-1 || v.Y == height-1
}

func (v Vec2) String() string {
	return fmt.Sprintf("(%d,%d)", v.X, v.Y)
}
