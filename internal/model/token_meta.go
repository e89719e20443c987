package model

// TokenMeta is the ERC20 metadata needed to render amounts for humans.
// Symbol is empty when the token does not expose one.
type TokenMeta struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol,omitempty"`
}

// Label renders the token as "SYMBOL (address)", or the bare address.
func (m TokenMeta) Label() string {
	if m.Symbol == "" {
		return m.Address
	}
	return m.Symbol + " (" + m.Address + ")"
}
