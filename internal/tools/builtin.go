package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"recipe-assistant/internal/inventory"
	"recipe-assistant/internal/planner"
	"recipe-assistant/internal/recipe"
)

// Tool names the presentation layers match on.
const (
	SearchRecipesTool      = "search_recipes"
	ManageShoppingListTool = "manage_shopping_list"
	ManagePantryTool       = "manage_pantry"
)

// IntentPlanner turns a search query into a retrieval intent.
type IntentPlanner interface {
	Plan(ctx context.Context, message string) (planner.RetrievalIntent, error)
}

// RecipeSearcher executes a retrieval intent.
type RecipeSearcher interface {
	Search(ctx context.Context, intent planner.RetrievalIntent, limit int) ([]recipe.Match, error)
}

// SearchOutput is the result shape of search_recipes.
type SearchOutput struct {
	Recipes []recipe.Match `json:"recipes"`
}

// InventoryOutput is the result shape of the inventory tools: the whole list after the change.
type InventoryOutput struct {
	Items []inventory.Item `json:"items"`
}

const searchSchema = `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "minLength": 1,
      "pattern": "\\S",
      "description": "What the user is looking for, in their own words, including any calorie, time, protein or favourite constraints"
    }
  },
  "required": ["query"],
  "additionalProperties": false
}`

const inventorySchema = `{
  "type": "object",
  "properties": {
    "action": {"type": "string", "enum": ["add", "remove"]},
    "name": {"type": "string", "minLength": 1, "pattern": "\\S", "description": "Item name"},
    "quantity": {"type": ["string", "null"], "description": "Optional amount, e.g. 2L or 12"}
  },
  "required": ["action", "name"],
  "additionalProperties": false
}`

// NewSearchTool plans the query and runs it with a fixed limit.
func NewSearchTool(p IntentPlanner, s RecipeSearcher, limit int) Tool {
	return Tool{
		Name: SearchRecipesTool,
		Description: "Search the user's personal recipe book. Results are shown to the user as recipe cards, " +
			"so do not repeat them in your answer.",
		InputSchema:    json.RawMessage(searchSchema),
		FailureMessage: "search unavailable",
		Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
			var args struct {
				Query string `json:"query"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, fmt.Errorf("failed to decode search input: %w", err)
			}
			intent, err := p.Plan(ctx, args.Query)
			if err != nil {
				return nil, err
			}
			matches, err := s.Search(ctx, intent, limit)
			if err != nil {
				return nil, err
			}
			return SearchOutput{Recipes: matches}, nil
		},
	}
}

// NewInventoryTool exposes add and remove on one inventory.
func NewInventoryTool(svc *inventory.Service) Tool {
	name, desc := ManageShoppingListTool, "Add items to or remove items from the user's shopping list."
	if svc.Kind() == inventory.Pantry {
		name, desc = ManagePantryTool, "Add items to or remove items from the user's pantry."
	}
	return Tool{
		Name:           name,
		Description:    desc + " Adding an existing item replaces its quantity. Returns the full list.",
		InputSchema:    json.RawMessage(inventorySchema),
		FailureMessage: "inventory unavailable",
		Execute: func(ctx context.Context, input json.RawMessage) (any, error) {
			var args struct {
				Action   string  `json:"action"`
				Name     string  `json:"name"`
				Quantity *string `json:"quantity"`
			}
			if err := json.Unmarshal(input, &args); err != nil {
				return nil, fmt.Errorf("failed to decode inventory input: %w", err)
			}
			switch args.Action {
			case "add":
				return InventoryOutput{Items: svc.Add(ctx, args.Name, args.Quantity)}, nil
			case "remove":
				return InventoryOutput{Items: svc.Remove(ctx, args.Name)}, nil
			}
			return nil, fmt.Errorf("unknown action %q", args.Action)
		},
	}
}
