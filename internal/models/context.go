package models

// Snippet is a knowledge base passage returned by similarity search.
type Snippet struct {
	Source string  `json:"source,omitempty"`
	Text   string  `json:"text"`
	Score  float32 `json:"score"`
}

// GraphFact is a part record from the product graph.
type GraphFact struct {
	Brand string `json:"brand"`
	Part  string `json:"part_name"`
	Code  string `json:"code"`
	Price string `json:"price"`
	Spec  string `json:"spec,omitempty"`
}

// ContextBundle gathers everything known about a message before the model sees it.
// Facets that could not be fetched are left empty and noted in Warnings.
type ContextBundle struct {
	Snippets   []Snippet          `json:"snippets"`
	ImageQuery string             `json:"image_query,omitempty"`
	GraphFacts []GraphFact        `json:"graph_facts"`
	LastOrder  *Order             `json:"last_order,omitempty"`
	History    []ConversationTurn `json:"history"`
	Customer   *Customer          `json:"customer,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// ToolInvocation is a single tool call requested by the model.
type ToolInvocation struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
