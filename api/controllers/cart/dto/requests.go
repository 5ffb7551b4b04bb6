package cartdto

// AddItemRequest is the body of POST /carts/{cartId}/items. Quantity bounds are enforced by
// the cart service so HTTP and internal callers see the same errors.
type AddItemRequest struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Quantity  int    `json:"quantity"`
}

// SetQuantityRequest is the body of PUT /carts/{cartId}/items/{productId}. Zero removes the line.
type SetQuantityRequest struct {
	Quantity *int `json:"quantity" validate:"required"`
}
