package model

// Status reports how a walk terminated
type Status string

const (
	StatusOK      Status = "ok"       // All requested hops were taken
	StatusDeadEnd Status = "dead_end" // The walk ran out of valid next hops
)

// Path is the output of a single walk.
//
// Items[k-1] --Properties[k-1]--> Items[k] holds for every hop k. A completed path
// has len(Properties) == len(Items)-1 and no repeated item or property ids.
type Path struct {
	Items      []Item     `json:"items"`
	Properties []Property `json:"properties"`
}

// Hops returns the number of edges in the path
func (p Path) Hops() int {
	return len(p.Properties)
}

// Start returns the first item of the path
func (p Path) Start() Item {
	if len(p.Items) == 0 {
		return Item{}
	}
	return p.Items[0]
}

// End returns the last item of the path (the answer of the generated question)
func (p Path) End() Item {
	if len(p.Items) == 0 {
		return Item{}
	}
	return p.Items[len(p.Items)-1]
}

// ItemIDs returns the ordered item ids
func (p Path) ItemIDs() []string {
	ids := make([]string, len(p.Items))
	for i, item := range p.Items {
		ids[i] = item.ID
	}
	return ids
}

// PropertyIDs returns the ordered property ids
func (p Path) PropertyIDs() []string {
	ids := make([]string, len(p.Properties))
	for i, prop := range p.Properties {
		ids[i] = prop.ID
	}
	return ids
}

// ItemLabels returns the ordered item labels
func (p Path) ItemLabels() []string {
	labels := make([]string, len(p.Items))
	for i, item := range p.Items {
		labels[i] = item.Label
	}
	return labels
}

// PropertyLabels returns the ordered property labels
func (p Path) PropertyLabels() []string {
	labels := make([]string, len(p.Properties))
	for i, prop := range p.Properties {
		labels[i] = prop.Label
	}
	return labels
}

// Sample is one record produced by a batch run
type Sample struct {
	ID       string `json:"id"`                 // Unique sample id (uuid)
	Path     Path   `json:"path"`               // Sampled path
	Status   Status `json:"status"`             // ok or dead_end
	Attempt  int    `json:"attempt"`            // Index of the walk that produced this sample
	Question string `json:"question,omitempty"` // Generated question (empty when generation is disabled)
	Model    string `json:"model,omitempty"`    // Model that generated the question
}
