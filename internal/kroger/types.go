// Package kroger is the typed client for the Kroger public API: store
// location lookup, product search, and cart additions. All calls go
// through the shared retrying request layer.
package kroger

// locationsResponse is the wire shape of GET /locations.
type locationsResponse struct {
	Data []wireLocation `json:"data"`
}

type wireLocation struct {
	LocationID string      `json:"locationId"`
	Name       string      `json:"name"`
	Chain      string      `json:"chain"`
	Address    wireAddress `json:"address"`
}

type wireAddress struct {
	AddressLine1 string `json:"addressLine1"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zipCode"`
}

// productsResponse is the wire shape of GET /products. The by-id form,
// GET /products/{id}, returns a single object under data instead.
type productsResponse struct {
	Data []wireProduct `json:"data"`
}

type productResponse struct {
	Data wireProduct `json:"data"`
}

type wireProduct struct {
	ProductID   string     `json:"productId"`
	UPC         string     `json:"upc"`
	Description string     `json:"description"`
	Brand       string     `json:"brand"`
	Items       []wireItem `json:"items"`
}

type wireItem struct {
	Price     *wirePrice     `json:"price"`
	Inventory *wireInventory `json:"inventory"`
}

type wirePrice struct {
	Regular float64 `json:"regular"`
	Promo   float64 `json:"promo"`
}

type wireInventory struct {
	StockLevel string `json:"stockLevel"`
}

// cartAddRequest is the body of PUT /cart/add.
type cartAddRequest struct {
	Items []cartAddItem `json:"items"`
}

type cartAddItem struct {
	UPC      string `json:"upc"`
	Quantity int    `json:"quantity"`
	Modality string `json:"modality"`
}
