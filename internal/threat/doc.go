// Package threat defines the core domain model for Recall's tiered threat
// memory: the three tier entry types, analyst action vocabulary, and the
// composite threat scorer.
package threat
