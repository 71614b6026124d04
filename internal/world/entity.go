package world

import (
	"math/rand"

	"github.com/annel0/gemfall/internal/vec"
)

// Expression — выражение лица персонажа.
type Expression uint32

const (
	ExprNeutral Expression = iota
	ExprAngry
	ExprShocked
	ExprSkeptical
)

// HairStyle — причёска персонажа.
type HairStyle uint32

const (
	HairQuiff HairStyle = iota
	HairMohawk
	HairFringe
)

// ClothingColour — цвет одежды.
type ClothingColour uint32

const (
	ClothingRed ClothingColour = iota
	ClothingOrange
	ClothingYellow
	ClothingGreen
	ClothingBlue
	ClothingPurple
)

// SkinColour — цвет кожи.
type SkinColour uint32

const (
	SkinPale SkinColour = iota
	SkinTan
	SkinBrown
	SkinDark
)

// HairColour — цвет волос.
type HairColour uint32

const (
	HairBlack HairColour = iota
	HairBrown
	HairBlonde
	HairGinger
	HairWhite
)

// Entity — персонаж игрока. Владеет им ровно один клиент; мутации идут
// только через операции World под его мьютексом.
type Entity struct {
	Pos             vec.TilePoint
	Dir             vec.Direction
	Expression      Expression
	HairStyle       HairStyle
	ClothingColour  ClothingColour
	SkinColour      SkinColour
	HairColour      HairColour
	HasRunningShoes bool

	Gems       map[Gem]uint32
	BoolItems  map[BoolItem]bool
	QuantItems map[QuantItem]uint32
}

// NewEntity создаёт персонажа на указанной позиции со случайной внешностью.
func NewEntity(pos vec.TilePoint) *Entity {
	return &Entity{
		Pos:            pos,
		Dir:            vec.DirDown,
		Expression:     ExprNeutral,
		HairStyle:      HairStyle(rand.Intn(3)),
		ClothingColour: ClothingColour(rand.Intn(6)),
		SkinColour:     SkinColour(rand.Intn(4)),
		HairColour:     HairColour(rand.Intn(5)),
		Gems:           make(map[Gem]uint32),
		BoolItems:      make(map[BoolItem]bool),
		QuantItems:     make(map[QuantItem]uint32),
	}
}

// Clone возвращает глубокую копию персонажа для отправки другим клиентам.
func (e *Entity) Clone() *Entity {
	c := *e
	c.Gems = make(map[Gem]uint32, len(e.Gems))
	for k, v := range e.Gems {
		c.Gems[k] = v
	}
	c.BoolItems = make(map[BoolItem]bool, len(e.BoolItems))
	for k, v := range e.BoolItems {
		c.BoolItems[k] = v
	}
	c.QuantItems = make(map[QuantItem]uint32, len(e.QuantItems))
	for k, v := range e.QuantItems {
		c.QuantItems[k] = v
	}
	return &c
}

// EnsureMaps доинициализирует карты после десериализации.
func (e *Entity) EnsureMaps() {
	if e.Gems == nil {
		e.Gems = make(map[Gem]uint32)
	}
	if e.BoolItems == nil {
		e.BoolItems = make(map[BoolItem]bool)
	}
	if e.QuantItems == nil {
		e.QuantItems = make(map[QuantItem]uint32)
	}
}
