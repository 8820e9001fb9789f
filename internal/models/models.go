package models

// Permission is a participant's effective access level on a container.
type Permission int

const (
	PermissionNone Permission = iota
	PermissionLimited
	PermissionObserver
	PermissionOwner
)

type Participant struct {
	ID      string
	Name    string
	ActorID string
	Scene   string
	GM      bool
}

// Container is an entity other participants can buy from or loot: a shop
// keeper, a chest, a corpse. Its ledger and stacks live behind the store;
// the flags drive restocking and pricing.
type Container struct {
	ID             string
	Name           string
	Scene          string
	PriceModifier  float64
	RolltableName  string
	ShopQtyFormula string
	ItemQtyFormula string
	ItemQtyCap     int
	ClearFirst     bool
	UniqueOnly     bool
	Permissions    map[string]Permission
}
