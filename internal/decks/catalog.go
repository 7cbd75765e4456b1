package decks

// CardData is the cached reference record for one card. Entries live under
// CardKey(name) and carry the "cards" tag so a sync can drop them as a
// group.
type CardData struct {
	Name    string  `json:"name"`
	SetCode string  `json:"set_code"`
	Rarity  string  `json:"rarity"`
	Price   float64 `json:"price"`
}

// referenceCatalog returns the card data a sync run writes into the cache.
// The hosted catalog service is stubbed with a canned set until its client
// lands.
func referenceCatalog() []CardData {
	return []CardData{
		{Name: "Ember Drake", SetCode: "FRG", Rarity: "rare", Price: 3.20},
		{Name: "Granite Bulwark", SetCode: "FRG", Rarity: "uncommon", Price: 0.45},
		{Name: "Tidecaller Adept", SetCode: "FRG", Rarity: "common", Price: 0.10},
		{Name: "Wildwood Stalker", SetCode: "FRG", Rarity: "common", Price: 0.12},
		{Name: "Sunspire Herald", SetCode: "DWN", Rarity: "rare", Price: 2.75},
		{Name: "Gravemist Shade", SetCode: "DWN", Rarity: "uncommon", Price: 0.60},
		{Name: "Arcane Relay", SetCode: "DWN", Rarity: "rare", Price: 4.10},
		{Name: "Frostveil Sentinel", SetCode: "GLC", Rarity: "mythic", Price: 11.50},
		{Name: "Cinder Imp", SetCode: "GLC", Rarity: "common", Price: 0.08},
		{Name: "Verdant Oracle", SetCode: "GLC", Rarity: "uncommon", Price: 0.55},
	}
}
