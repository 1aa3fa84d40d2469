package domain

// Template is the merge-tag body used to render campaign emails.
type Template struct {
	ID      string
	Name    string
	Content string
	Meta    map[string]any
}

// Topic is a subscriber-selectable interest category.
type Topic struct {
	ID        string
	Name      string
	Slug      string
	IsDefault bool
}
