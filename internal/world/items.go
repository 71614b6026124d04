package world

// BoolItem — предмет-флаг: либо есть, либо нет.
type BoolItem uint32

const (
	BoolItemRunningShoes BoolItem = iota
)

// QuantItem — предмет со счётчиком.
type QuantItem uint32

const (
	QuantItemBomb QuantItem = iota
)

// ItemPrice — цена предмета в самоцветах.
type ItemPrice map[Gem]uint32

// Единственная авторитетная таблица цен.
var (
	boolItemPrices = map[BoolItem]ItemPrice{
		BoolItemRunningShoes: {GemEmerald: 20, GemRuby: 5},
	}
	quantItemPrices = map[QuantItem]ItemPrice{
		QuantItemBomb: {GemEmerald: 4},
	}
)

// BoolItemPrice возвращает цену предмета-флага.
func BoolItemPrice(item BoolItem) (ItemPrice, bool) {
	p, ok := boolItemPrices[item]
	return p, ok
}

// QuantItemPrice возвращает цену одной единицы предмета со счётчиком.
func QuantItemPrice(item QuantItem) (ItemPrice, bool) {
	p, ok := quantItemPrices[item]
	return p, ok
}

// canAfford проверяет, хватает ли самоцветов на qty единиц по цене price.
func canAfford(gems map[Gem]uint32, price ItemPrice, qty uint32) bool {
	for gem, cost := range price {
		if gems[gem] < cost*qty {
			return false
		}
	}
	return true
}

// deduct списывает qty цен из кошелька. Вызывается только после canAfford.
func deduct(gems map[Gem]uint32, price ItemPrice, qty uint32) {
	for gem, cost := range price {
		gems[gem] -= cost * qty
	}
}

// PurchaseBoolItem пытается купить предмет-флаг: списывает цену и выдаёт
// предмет. Возвращает false, если предмет неизвестен, уже есть или не
// хватает самоцветов. Отказ — обычный ответ, не ошибка.
func PurchaseBoolItem(e *Entity, item BoolItem) bool {
	price, ok := boolItemPrices[item]
	if !ok || e.BoolItems[item] || !canAfford(e.Gems, price, 1) {
		return false
	}
	deduct(e.Gems, price, 1)
	e.BoolItems[item] = true
	if item == BoolItemRunningShoes {
		e.HasRunningShoes = true
	}
	return true
}

// PurchaseQuantItem пытается купить qty единиц предмета со счётчиком.
func PurchaseQuantItem(e *Entity, item QuantItem, qty uint32) bool {
	if qty == 0 {
		return false
	}
	price, ok := quantItemPrices[item]
	if !ok || !canAfford(e.Gems, price, qty) {
		return false
	}
	deduct(e.Gems, price, qty)
	e.QuantItems[item] += qty
	return true
}
