package model

import "fmt"

// Item is an entity node in the knowledge graph
type Item struct {
	ID          string `json:"id"`                    // Entity identifier (e.g., "Q42")
	Label       string `json:"label"`                 // Human-readable name
	Description string `json:"description,omitempty"` // Short description, may be empty
	InDegree    int    `json:"in_degree"`             // Number of incoming claims (sampling weight only)
}

// String returns "id (label)"
func (i Item) String() string {
	if i.Label == "" {
		return i.ID
	}
	return fmt.Sprintf("%s (%s)", i.ID, i.Label)
}

// Property is an edge label in the knowledge graph
type Property struct {
	ID          string `json:"id"`                    // Property identifier (e.g., "P19")
	Label       string `json:"label"`                 // Human-readable relation name
	Description string `json:"description,omitempty"` // Short description, may be empty
	Count       int    `json:"count,omitempty"`       // Number of claims carrying this property (0 = unknown)
}

// String returns "id (label)"
func (p Property) String() string {
	if p.Label == "" {
		return p.ID
	}
	return fmt.Sprintf("%s (%s)", p.ID, p.Label)
}

// Claim is a directed edge: subject --property--> target
type Claim struct {
	ID         int64  `json:"id"`          // Row identifier in the backing store
	SubjectID  string `json:"subject_id"`  // Source item
	PropertyID string `json:"property_id"` // Relation
	TargetID   string `json:"target_id"`   // Destination item
}

// String returns a compact triple representation
func (c Claim) String() string {
	return fmt.Sprintf("%s --%s--> %s", c.SubjectID, c.PropertyID, c.TargetID)
}
