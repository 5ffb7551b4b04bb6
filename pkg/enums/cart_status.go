package enums

// CartStatus is the cart lifecycle. Only active carts hold reservations.
type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusConverted CartStatus = "converted"
	CartStatusAbandoned CartStatus = "abandoned"
)

var cartStatuses = []CartStatus{CartStatusActive, CartStatusConverted, CartStatusAbandoned}

func (c CartStatus) String() string { return string(c) }

func (c CartStatus) IsValid() bool { return member(cartStatuses, c) }

// Terminal reports whether the cart can no longer change.
func (c CartStatus) Terminal() bool { return c == CartStatusConverted || c == CartStatusAbandoned }

func ParseCartStatus(raw string) (CartStatus, error) {
	return parse("cart status", cartStatuses, raw)
}
