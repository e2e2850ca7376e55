package session

// Definition describes one callable function as advertised to the agent in
// the settings handshake. Parameters is a JSON Schema object.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Definitions returns the function definitions matching the dispatch table.
// Order is stable so the handshake payload is reproducible.
func Definitions() []Definition {
	return []Definition{
		{
			Name:        "menu_summary",
			Description: "Get the menu: available items, sizes, and a short description.",
			Parameters:  objectSchema(nil, map[string]any{}),
		},
		{
			Name:        "add_item",
			Description: "Add an item to the caller's cart. Size and toppings are optional.",
			Parameters: objectSchema([]string{"item"}, map[string]any{
				"item":     map[string]any{"type": "string", "description": "Item name as the caller said it."},
				"size":     map[string]any{"type": "string", "description": "Requested size, e.g. small, medium, large."},
				"quantity": map[string]any{"type": "integer", "description": "How many, defaults to 1."},
				"modifiers": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Toppings or modifiers for the item.",
				},
			}),
		},
		{
			Name:        "remove_item",
			Description: "Remove an item from the cart by name.",
			Parameters: objectSchema([]string{"item"}, map[string]any{
				"item": map[string]any{"type": "string", "description": "Name of the cart item to remove."},
			}),
		},
		{
			Name:        "modify_item",
			Description: "Change the size, quantity, or toppings of an item already in the cart.",
			Parameters: objectSchema([]string{"item"}, map[string]any{
				"item":     map[string]any{"type": "string", "description": "Name of the cart item to change."},
				"size":     map[string]any{"type": "string", "description": "New size, if changing."},
				"quantity": map[string]any{"type": "integer", "description": "New quantity, if changing."},
				"modifiers": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Replacement topping list, if changing.",
				},
			}),
		},
		{
			Name:        "get_cart",
			Description: "Read back the current cart and its total.",
			Parameters:  objectSchema(nil, map[string]any{}),
		},
		{
			Name:        "save_phone",
			Description: "Record the caller's phone number for the order.",
			Parameters: objectSchema([]string{"phone"}, map[string]any{
				"phone": map[string]any{"type": "string", "description": "Phone number as the caller said it."},
			}),
		},
		{
			Name:        "confirm_phone",
			Description: "Confirm or reject the previously saved phone number after reading it back.",
			Parameters: objectSchema([]string{"confirmed"}, map[string]any{
				"confirmed": map[string]any{"type": "boolean", "description": "True if the caller confirmed the number."},
			}),
		},
		{
			Name:        "finalize_order",
			Description: "Place the order. Requires a non-empty cart and a confirmed phone number.",
			Parameters:  objectSchema(nil, map[string]any{}),
		},
		{
			Name:        "order_status",
			Description: "Look up an existing order by order number or phone number.",
			Parameters: objectSchema(nil, map[string]any{
				"order_number": map[string]any{"type": "string", "description": "Order number, e.g. 0042."},
				"phone":        map[string]any{"type": "string", "description": "Caller phone number to search by."},
			}),
		},
		{
			Name:        "cancel_order",
			Description: "Cancel an order that has not been completed, or abandon the current cart.",
			Parameters: objectSchema(nil, map[string]any{
				"order_number": map[string]any{"type": "string", "description": "Order number to cancel. Omit to abandon the current cart."},
			}),
		},
	}
}
