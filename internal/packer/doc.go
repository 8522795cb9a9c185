// Package packer builds context packs: ordered, token-budgeted bundles of
// chunk summaries ready to be placed in a prompt.
//
// Token costs are estimated as len(text)/4 with a minimum of 1. Each chunk
// is reduced to a summary of its query-relevant lines and then trimmed from
// the end until it fits the remaining budget. Savings are reported against
// sending the raw chunk content.
package packer
