package chain

// TokenSpec 预配置的代币（ERC-20 / TRC-20 合约）
type TokenSpec struct {
	Address  string `mapstructure:"address" json:"address"`
	Symbol   string `mapstructure:"symbol" json:"symbol"`
	Decimals int32  `mapstructure:"decimals" json:"decimals"`
	Name     string `mapstructure:"name" json:"name,omitempty"`
	LogoURL  string `mapstructure:"logo_url" json:"logo_url,omitempty"`
}

// FindToken 在配置列表中按合约地址查找代币
func FindToken(tokens []TokenSpec, address string, equal func(a, b string) bool) (TokenSpec, bool) {
	for _, t := range tokens {
		if equal(t.Address, address) {
			return t, true
		}
	}
	return TokenSpec{}, false
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TokenInfoFields 返回可选的名称和图标字段
func (t TokenSpec) TokenInfoFields() (name, logo *string) {
	return optional(t.Name), optional(t.LogoURL)
}
