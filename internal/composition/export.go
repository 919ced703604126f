package composition

import "gopkg.in/yaml.v3"

// ExportYAML serializes a document to YAML, the interchange format used for
// sharing compositions outside the service.
func ExportYAML(doc Document) ([]byte, error) {
	return yaml.Marshal(doc)
}

// ImportYAML parses a YAML document previously produced by ExportYAML.
// Map fields are allocated so the result is safe to mutate.
func ImportYAML(data []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	if doc.Snapshot.EffectChains == nil {
		doc.Snapshot.EffectChains = map[string][]Effect{}
	}
	if doc.Snapshot.SampleAssignments == nil {
		doc.Snapshot.SampleAssignments = map[string]SampleAssignment{}
	}
	return doc, nil
}
