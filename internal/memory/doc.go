// Package memory defines the three tier-store interfaces and the Service
// that fronts them: threat ingestion, interaction recording, and the
// dashboard query contracts. Moving entries between tiers is the promotion
// supervisor's job, not the Service's.
package memory
