// Copyright 2025 Storeflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

// builtinTemplates returns the built-in e-commerce workflow catalog
// registered at process start.
func builtinTemplates() []*Template {
	return []*Template{
		{
			ID:             "product-publish",
			Name:           "Product Publish",
			Description:    "Publish a product listing to the connected marketplaces.",
			Category:       "catalog",
			RequiredInputs: []string{"title", "description", "price"},
			OptionalInputs: []string{"tags", "images", "sku"},
			TriggerType:    TriggerManual,
			Version:        "1.2.0",
		},
		{
			ID:             "order-sync",
			Name:           "Order Sync",
			Description:    "Pull new orders from the marketplaces into the store.",
			Category:       "orders",
			TriggerType:    TriggerScheduled,
			Schedule:       "*/15 * * * *",
			Version:        "1.1.0",
		},
		{
			ID:             "inventory-alert",
			Name:           "Inventory Alert",
			Description:    "Notify when stock for a SKU drops below its threshold.",
			Category:       "inventory",
			RequiredInputs: []string{"sku", "threshold"},
			TriggerType:    TriggerEvent,
			Version:        "1.0.0",
		},
		{
			ID:             "abandoned-cart",
			Name:           "Abandoned Cart Follow-up",
			Description:    "Send a follow-up email for carts abandoned past the cutoff.",
			Category:       "marketing",
			RequiredInputs: []string{"cartId", "email"},
			OptionalInputs: []string{"discountCode"},
			TriggerType:    TriggerEvent,
			Version:        "1.3.0",
		},
		{
			ID:             "price-sync",
			Name:           "Price Sync",
			Description:    "Propagate price changes to every connected marketplace.",
			Category:       "catalog",
			TriggerType:    TriggerScheduled,
			Schedule:       "0 3 * * *",
			Version:        "1.0.1",
		},
		{
			ID:             "review-request",
			Name:           "Review Request",
			Description:    "Ask buyers for a review once an order is delivered.",
			Category:       "marketing",
			RequiredInputs: []string{"orderId"},
			OptionalInputs: []string{"delayDays"},
			TriggerType:    TriggerWebhook,
			Version:        "1.0.0",
		},
	}
}
